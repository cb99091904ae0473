package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"

	"github.com/charlesng35/credverify/pkg/logger"
)

// SolanaConfig configures the program-backed ledger driver.
type SolanaConfig struct {
	RPCURL    string
	ProgramID string
	// PrivateKey is the base58 payer key; KeypairPath is read when it is empty.
	PrivateKey  string
	KeypairPath string
	Commitment  string
}

// Instruction variants understood by the registry program.
const (
	instructionIssue uint8 = iota
	instructionRevoke
	instructionFraudScore
)

var certificateSeed = []byte("certificate")

type issueInstruction struct {
	Variant        uint8
	CertificateKey [32]byte
	ContentHash    [32]byte
	Student        [32]byte
	ExpiresAt      int64
}

type revokeInstruction struct {
	Variant        uint8
	CertificateKey [32]byte
}

type fraudScoreInstruction struct {
	Variant        uint8
	CertificateKey [32]byte
	Score          uint8
}

// certificateAccount is the on-chain layout of a certificate record.
type certificateAccount struct {
	ContentHash [32]byte
	Student     [32]byte
	ExpiresAt   int64
	Revoked     bool
	FraudScore  uint8
}

// SolanaClient writes certificate records through a registry program.
type SolanaClient struct {
	rpc        *rpc.Client
	program    solana.PublicKey
	payer      solana.PrivateKey
	commitment rpc.CommitmentType
	timeout    time.Duration
}

// NewSolanaClient parses keys and builds the RPC client. No network call is made.
func NewSolanaClient(cfg SolanaConfig, timeout time.Duration) (*SolanaClient, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("ledger: solana rpc_url is required")
	}

	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid program id %q: %w", cfg.ProgramID, err)
	}

	var payer solana.PrivateKey
	switch {
	case cfg.PrivateKey != "":
		payer, err = solana.PrivateKeyFromBase58(cfg.PrivateKey)
	case cfg.KeypairPath != "":
		payer, err = solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	default:
		err = errors.New("private_key or keypair_path is required")
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: solana payer: %w", err)
	}

	commitment := rpc.CommitmentType(strings.ToLower(cfg.Commitment))
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger.WithModule("ledger").Debug("solana ledger configured")

	return &SolanaClient{
		rpc:        rpc.New(cfg.RPCURL),
		program:    program,
		payer:      payer,
		commitment: commitment,
		timeout:    timeout,
	}, nil
}

func (c *SolanaClient) Name() string { return "solana" }

func (c *SolanaClient) recordAddress(key [32]byte) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress([][]byte{certificateSeed, key[:]}, c.program)
	return address, err
}

func (c *SolanaClient) IssueCertificate(ctx context.Context, req IssueRequest) (Receipt, error) {
	contentHash, err := decodeDigest(req.ContentHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: content hash: %w", err)
	}
	student, err := solana.PublicKeyFromBase58(req.StudentAddress)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: student address: %w", err)
	}

	payload := issueInstruction{
		Variant:        instructionIssue,
		CertificateKey: CertificateKey(req.CertificateID),
		ContentHash:    contentHash,
		Student:        [32]byte(student),
	}
	if req.ExpiresAt != nil {
		payload.ExpiresAt = req.ExpiresAt.Unix()
	}
	return c.submit(ctx, payload.CertificateKey, payload)
}

func (c *SolanaClient) RevokeCertificate(ctx context.Context, certificateID string) (Receipt, error) {
	key := CertificateKey(certificateID)
	return c.submit(ctx, key, revokeInstruction{Variant: instructionRevoke, CertificateKey: key})
}

func (c *SolanaClient) StoreFraudScore(ctx context.Context, certificateID string, score int) (Receipt, error) {
	if score < 0 || score > 100 {
		return Receipt{}, fmt.Errorf("ledger: fraud score %d out of range", score)
	}
	key := CertificateKey(certificateID)
	return c.submit(ctx, key, fraudScoreInstruction{
		Variant:        instructionFraudScore,
		CertificateKey: key,
		Score:          uint8(score),
	})
}

func (c *SolanaClient) VerifyCertificate(ctx context.Context, certificateID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	address, err := c.recordAddress(CertificateKey(certificateID))
	if err != nil {
		return Status{}, fmt.Errorf("ledger: derive record address: %w", err)
	}

	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return Status{}, ErrNotFound
	}
	if err != nil {
		return Status{}, fmt.Errorf("ledger: get record: %w", err)
	}
	if out == nil || out.Value == nil {
		return Status{}, ErrNotFound
	}

	var record certificateAccount
	if err := borsh.Deserialize(&record, out.Value.Data.GetBinary()); err != nil {
		return Status{}, fmt.Errorf("ledger: decode record: %w", err)
	}

	return Status{
		Valid:       !record.Revoked,
		Revoked:     record.Revoked,
		ContentHash: hex.EncodeToString(record.ContentHash[:]),
		FraudScore:  int(record.FraudScore),
		BlockNumber: out.Context.Slot,
	}, nil
}

func (c *SolanaClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("ledger: rpc health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("ledger: rpc reports %q", status)
	}
	return nil
}

func (c *SolanaClient) submit(ctx context.Context, key [32]byte, payload any) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := borsh.Serialize(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: encode instruction: %w", err)
	}

	record, err := c.recordAddress(key)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: derive record address: %w", err)
	}

	instruction := solana.NewInstruction(
		c.program,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(c.payer.PublicKey(), true, true),
			solana.NewAccountMeta(record, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	)

	latest, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		latest.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: build transaction: %w", err)
	}

	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	}); err != nil {
		return Receipt{}, fmt.Errorf("ledger: sign transaction: %w", err)
	}

	signature, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: send transaction: %w", err)
	}

	return Receipt{TxHash: signature.String(), BlockNumber: latest.Context.Slot}, nil
}
