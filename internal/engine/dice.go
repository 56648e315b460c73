package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"ludo/internal/game/ludo"
)

// Dice produces roll values.
type Dice interface {
	Roll() (int, error)
}

// CryptoDice draws uniformly from 1..6 using crypto/rand.
type CryptoDice struct{}

var faces = big.NewInt(ludo.DiceMax - ludo.DiceMin + 1)

func (CryptoDice) Roll() (int, error) {
	n, err := rand.Int(rand.Reader, faces)
	if err != nil {
		return 0, fmt.Errorf("roll dice: %w", err)
	}
	return int(n.Int64()) + ludo.DiceMin, nil
}

// DiceFunc adapts a plain function to Dice.
type DiceFunc func() (int, error)

func (f DiceFunc) Roll() (int, error) { return f() }
