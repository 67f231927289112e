// Package captcha implements a hashcash-style proof-of-work widget. A client
// proves effort by finding a solution s such that sha256(nonce ":" s) starts
// with Difficulty zero bits. Each widget accepts one valid proof.
package captcha

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"sync"
)

var (
	ErrInvalidProof = errors.New("proof of work rejected")
	ErrConsumed     = errors.New("proof of work widget already used")
	ErrCleared      = errors.New("proof of work widget was torn down")
)

const maxDifficulty = 32

type state int

const (
	stateFresh state = iota
	stateConsumed
	stateCleared
)

// Challenge is what the client needs to compute a proof.
type Challenge struct {
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
}

type Widget struct {
	mu         sync.Mutex
	nonce      string
	difficulty int
	state      state
}

func New(difficulty int) (*Widget, error) {
	if difficulty < 0 || difficulty > maxDifficulty {
		return nil, fmt.Errorf("difficulty must be between 0 and %d", maxDifficulty)
	}
	w := &Widget{difficulty: difficulty}
	if err := w.Reset(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Widget) Challenge() Challenge {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Challenge{Nonce: w.nonce, Difficulty: w.difficulty}
}

// Verify checks solution and consumes the widget on success.
func (w *Widget) Verify(solution string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case stateConsumed:
		return ErrConsumed
	case stateCleared:
		return ErrCleared
	}
	if !Check(Challenge{Nonce: w.nonce, Difficulty: w.difficulty}, solution) {
		return ErrInvalidProof
	}
	w.state = stateConsumed
	return nil
}

// Reset issues a fresh nonce, making the widget usable again.
func (w *Widget) Reset() error {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	w.mu.Lock()
	w.nonce = hex.EncodeToString(b[:])
	w.state = stateFresh
	w.mu.Unlock()
	return nil
}

// Clear permanently retires the widget.
func (w *Widget) Clear() {
	w.mu.Lock()
	w.nonce = ""
	w.state = stateCleared
	w.mu.Unlock()
}

// Check reports whether solution satisfies ch.
func Check(ch Challenge, solution string) bool {
	sum := sha256.Sum256([]byte(ch.Nonce + ":" + solution))
	return leadingZeroBits(sum[:]) >= ch.Difficulty
}

// Solve brute-forces a solution for ch. Clients and tests use it.
func Solve(ch Challenge) string {
	for i := uint64(0); ; i++ {
		s := strconv.FormatUint(i, 10)
		if Check(ch, s) {
			return s
		}
	}
}

func leadingZeroBits(b []byte) int {
	n := 0
	for _, x := range b {
		if x == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(x)
	}
	return n
}
