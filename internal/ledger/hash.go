package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// CanonicalContent is the serialisation hashed into a certificate's content digest.
// Field order is fixed by the struct definition.
type CanonicalContent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Recipient   string `json:"recipient"`
	Institution string `json:"institution"`
	IssueDate   string `json:"issue_date"`
}

// NewCanonicalContent normalises the identity fields of a certificate.
func NewCanonicalContent(id, title, recipient, institution string, issueDate time.Time) CanonicalContent {
	return CanonicalContent{
		ID:          id,
		Title:       strings.TrimSpace(title),
		Recipient:   strings.ToLower(strings.TrimSpace(recipient)),
		Institution: institution,
		IssueDate:   issueDate.UTC().Format("2006-01-02"),
	}
}

// ContentHash returns the hex sha256 digest of the canonical serialisation.
func ContentHash(content CanonicalContent) string {
	raw, _ := json.Marshal(content) // strings only, cannot fail
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CertificateKey derives the ledger key of a certificate from its id.
func CertificateKey(certificateID string) [32]byte {
	return sha256.Sum256([]byte(certificateID))
}

// StudentAddress derives a stable pseudo-address for a recipient. It is not a wallet.
func StudentAddress(recipient string) string {
	sum := sha256.Sum256([]byte("student:" + strings.ToLower(strings.TrimSpace(recipient))))
	return solana.PublicKeyFromBytes(sum[:]).String()
}

func decodeDigest(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, hex.ErrLength
	}
	copy(out[:], raw)
	return out, nil
}
