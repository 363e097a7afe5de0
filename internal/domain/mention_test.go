package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMention_ValidateOK(t *testing.T) {
	assert.NoError(t, makeMention().Normalize().Validate())

	sol := Mention{
		Address:    "So11111111111111111111111111111111111111112",
		Chain:      "Solana",
		EntryPrice: 0.0001,
		EntryAt:    time.Now(),
		Channel:    "degen",
	}
	assert.NoError(t, sol.Normalize().Validate())
}

func TestMention_ValidateRejects(t *testing.T) {
	cases := map[string]func(m *Mention){
		"zero price":     func(m *Mention) { m.EntryPrice = 0 },
		"negative price": func(m *Mention) { m.EntryPrice = -3 },
		"no address":     func(m *Mention) { m.Address = "" },
		"no channel":     func(m *Mention) { m.Channel = "" },
		"no chain":       func(m *Mention) { m.Chain = "" },
		"zero time":      func(m *Mention) { m.EntryAt = time.Time{} },
		"bad evm":        func(m *Mention) { m.Address = "0x1234" },
		"bad solana":     func(m *Mention) { m.Chain = "solana"; m.Address = "0OIl" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := makeMention()
			mutate(&m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidMention)
		})
	}
}

func TestMention_NormalizeLowercasesEVM(t *testing.T) {
	m := makeMention()
	m.Address = "0x6982508145454Ce325dDbE47a25d4ec3d2311933"
	m.Chain = "Ethereum"
	n := m.Normalize()
	assert.Equal(t, "ethereum", n.Chain)
	assert.Equal(t, "0x6982508145454ce325ddbe47a25d4ec3d2311933", n.Address)
}
