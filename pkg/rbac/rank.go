package rbac

import (
	"github.com/platinummonkey/warden/pkg/access"
)

// Rank orders templates by privilege. Higher is more privileged.
type Rank int

const (
	// RankNone is held by actors with no active assignment
	RankNone Rank = 0

	RankViewer     Rank = 20
	RankUser       Rank = 40
	RankTechnical  Rank = 60
	RankAdmin      Rank = 80
	RankSuperAdmin Rank = 100

	maxRank Rank = 1000
)

// NewRank validates v as a template rank
func NewRank(v int) (Rank, error) {
	r := Rank(v)
	if err := r.Validate(); err != nil {
		return RankNone, err
	}
	return r, nil
}

// Validate checks the rank lies in 1..1000
func (r Rank) Validate() error {
	if r < 1 || r > maxRank {
		return access.Invalid("rank", "rank must be between 1 and %d, got %d", maxRank, int(r))
	}
	return nil
}

// AtLeast reports whether r is greater than or equal to other
func (r Rank) AtLeast(other Rank) bool {
	return r >= other
}

// Below reports whether r is strictly less than other
func (r Rank) Below(other Rank) bool {
	return r < other
}

// IsTop reports whether r carries platform-wide administrative rights
func (r Rank) IsTop() bool {
	return r >= RankSuperAdmin
}
