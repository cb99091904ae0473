package fraud

import (
	"strings"
	"time"
)

// FeatureCount is the length of the vector sent to the scoring model.
const FeatureCount = 10

// Subject holds the certificate attributes the feature vector is derived from.
type Subject struct {
	Title           string
	Description     string
	CourseID        string
	RecipientName   string
	RecipientEmail  string
	InstitutionName string
	IssueDate       time.Time
	ExpiryDate      *time.Time
	IssuedAt        time.Time
	// RecipientIsInvite is true when the recipient had no account at issuance.
	RecipientIsInvite bool
	// InstitutionIssued counts certificates the institution issued before this one.
	InstitutionIssued int64
}

// Features builds a deterministic vector, each component scaled to [0,5].
func Features(s Subject) []float64 {
	features := make([]float64, FeatureCount)

	features[0] = scale(float64(len(strings.TrimSpace(s.Title))), 120)
	features[1] = scale(float64(len(strings.TrimSpace(s.Description))), 1000)
	features[2] = boolFeature(strings.TrimSpace(s.CourseID) != "")
	features[3] = boolFeature(s.RecipientIsInvite)
	features[4] = boolFeature(!emailDomainMatches(s.RecipientEmail, s.InstitutionName))

	// Backdated and future-dated issuance are both suspicious.
	if !s.IssueDate.IsZero() && !s.IssuedAt.IsZero() {
		delta := s.IssuedAt.Sub(s.IssueDate).Hours() / 24
		if delta < 0 {
			features[5] = 5
		} else {
			features[6] = scale(delta, 3650)
		}
	}

	if s.ExpiryDate != nil && !s.IssueDate.IsZero() {
		validity := s.ExpiryDate.Sub(s.IssueDate).Hours() / 24
		if validity <= 0 {
			features[7] = 5
		} else {
			features[7] = 5 - scale(validity, 3650)
		}
	}

	features[8] = 5 - scale(float64(s.InstitutionIssued), 500)
	features[9] = boolFeature(strings.TrimSpace(s.RecipientName) == "")

	return features
}

func scale(value, ceiling float64) float64 {
	if value <= 0 {
		return 0
	}
	if value >= ceiling {
		return 5
	}
	return value / ceiling * 5
}

func boolFeature(v bool) float64 {
	if v {
		return 5
	}
	return 0
}

func emailDomainMatches(email, institution string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || strings.TrimSpace(institution) == "" {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, word := range strings.Fields(strings.ToLower(institution)) {
		if len(word) > 3 && strings.Contains(domain, word) {
			return true
		}
	}
	return false
}
