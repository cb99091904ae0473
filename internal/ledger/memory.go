package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
)

type memoryRecord struct {
	request    IssueRequest
	issued     bool
	revoked    bool
	fraudScore int
	block      uint64
}

// MemoryClient is an in-process ledger used for development and tests.
type MemoryClient struct {
	mu      sync.Mutex
	records map[[32]byte]*memoryRecord
	block   uint64
	failure error
	calls   map[string]int
}

// NewMemoryClient constructs an empty in-memory ledger.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		records: make(map[[32]byte]*memoryRecord),
		calls:   make(map[string]int),
	}
}

func (m *MemoryClient) Name() string { return "memory" }

// FailWith makes every subsequent call return err. Passing nil restores normal behaviour.
func (m *MemoryClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Calls reports how many times an operation was invoked, including failed attempts.
func (m *MemoryClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryClient) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failure
}

func (m *MemoryClient) receipt(key [32]byte, op string) Receipt {
	m.block++
	sum := sha256.Sum256([]byte(op + ":" + hex.EncodeToString(key[:]) + ":" + strconv.FormatUint(m.block, 10)))
	return Receipt{TxHash: "0x" + hex.EncodeToString(sum[:]), BlockNumber: m.block}
}

func (m *MemoryClient) IssueCertificate(ctx context.Context, req IssueRequest) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "issue"); err != nil {
		return Receipt{}, err
	}

	key := CertificateKey(req.CertificateID)
	receipt := m.receipt(key, "issue")
	record, ok := m.records[key]
	if !ok {
		record = &memoryRecord{}
		m.records[key] = record
	}
	record.request = req
	record.issued = true
	record.block = receipt.BlockNumber
	return receipt, nil
}

func (m *MemoryClient) VerifyCertificate(ctx context.Context, certificateID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "verify"); err != nil {
		return Status{}, err
	}

	record, ok := m.records[CertificateKey(certificateID)]
	if !ok || !record.issued {
		return Status{}, ErrNotFound
	}
	return Status{
		Valid:       !record.revoked,
		Revoked:     record.revoked,
		ContentHash: record.request.ContentHash,
		FraudScore:  record.fraudScore,
		BlockNumber: record.block,
	}, nil
}

func (m *MemoryClient) RevokeCertificate(ctx context.Context, certificateID string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "revoke"); err != nil {
		return Receipt{}, err
	}

	key := CertificateKey(certificateID)
	record, ok := m.records[key]
	if !ok || !record.issued {
		return Receipt{}, ErrNotFound
	}
	record.revoked = true
	return m.receipt(key, "revoke"), nil
}

func (m *MemoryClient) StoreFraudScore(ctx context.Context, certificateID string, score int) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "fraud"); err != nil {
		return Receipt{}, err
	}

	// Fraud scores may be stored before the issue record lands.
	key := CertificateKey(certificateID)
	record, ok := m.records[key]
	if !ok {
		record = &memoryRecord{request: IssueRequest{CertificateID: certificateID}}
		m.records[key] = record
	}
	record.fraudScore = score
	return m.receipt(key, "fraud"), nil
}

func (m *MemoryClient) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failure
}
