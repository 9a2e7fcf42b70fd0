package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

// CodeSequence hands out request codes. It continues from the highest
// sequence number already stored so codes stay unique across restarts.
type CodeSequence struct {
	mu     sync.Mutex
	prefix string
	last   int
}

// LoadCodeSequence reads the stored high-water mark.
func LoadCodeSequence(ctx context.Context, gdb *gorm.DB, prefix string) (*CodeSequence, error) {
	var last int
	err := gdb.WithContext(ctx).Model(&models.Request{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return nil, fmt.Errorf("workflow: load code sequence: %w", err)
	}
	return &CodeSequence{prefix: prefix, last: last}, nil
}

// NewCodeSequence starts after last.
func NewCodeSequence(prefix string, last int) *CodeSequence {
	return &CodeSequence{prefix: prefix, last: last}
}

// Next returns the next code and its sequence number.
func (s *CodeSequence) Next() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return FormatCode(s.prefix, s.last), s.last
}

// FormatCode renders prefix plus a zero-padded three-digit sequence. Larger
// numbers simply grow wider.
func FormatCode(prefix string, seq int) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}
