package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Mention es lo que entrega el colaborador de ingesta: un token mencionado por un canal.
type Mention struct {
	Address      string
	Chain        string
	Symbol       string
	EntryPrice   float64
	EntryAt      time.Time
	Channel      string
	MessageID    string
	MarketCapUSD float64 // opcional, 0 = desconocido
}

// evmChains son las cadenas cuyas direcciones se validan como hex de 20 bytes.
var evmChains = map[string]bool{
	"ethereum":  true,
	"bsc":       true,
	"base":      true,
	"arbitrum":  true,
	"polygon":   true,
	"optimism":  true,
	"avalanche": true,
}

// IsEVMChain devuelve true para cadenas con direcciones estilo Ethereum.
func IsEVMChain(chain string) bool {
	return evmChains[strings.ToLower(chain)]
}

// Normalize devuelve una copia con chain en minúsculas, dirección EVM en minúsculas
// y timestamp en UTC. La dirección normalizada es la clave del repositorio.
func (m Mention) Normalize() Mention {
	m.Chain = strings.ToLower(strings.TrimSpace(m.Chain))
	m.Address = strings.TrimSpace(m.Address)
	if IsEVMChain(m.Chain) {
		m.Address = strings.ToLower(m.Address)
	}
	m.Channel = strings.TrimSpace(m.Channel)
	m.Symbol = strings.TrimSpace(m.Symbol)
	m.EntryAt = m.EntryAt.UTC()
	return m
}

// Validate rechaza menciones que no pueden entrar a la máquina de estados.
// Todos los errores envuelven ErrInvalidMention.
func (m Mention) Validate() error {
	switch {
	case m.Address == "":
		return fmt.Errorf("%w: missing address", ErrInvalidMention)
	case m.Chain == "":
		return fmt.Errorf("%w: missing chain", ErrInvalidMention)
	case m.Channel == "":
		return fmt.Errorf("%w: missing channel", ErrInvalidMention)
	case m.EntryAt.IsZero():
		return fmt.Errorf("%w: missing entry timestamp", ErrInvalidMention)
	case m.EntryPrice <= 0 || math.IsNaN(m.EntryPrice) || math.IsInf(m.EntryPrice, 0):
		return fmt.Errorf("%w: entry price must be > 0, got %v", ErrInvalidMention, m.EntryPrice)
	case m.MarketCapUSD < 0:
		return fmt.Errorf("%w: negative market cap", ErrInvalidMention)
	}

	if IsEVMChain(m.Chain) && !common.IsHexAddress(m.Address) {
		return fmt.Errorf("%w: %q is not a valid %s address", ErrInvalidMention, m.Address, m.Chain)
	}
	if strings.EqualFold(m.Chain, "solana") {
		raw, err := base58.Decode(m.Address)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: %q is not a valid solana address", ErrInvalidMention, m.Address)
		}
	}
	return nil
}

// Ref devuelve la identidad del token frente a los proveedores de precio.
func (m Mention) Ref() TokenRef {
	return TokenRef{Address: m.Address, Chain: m.Chain, Symbol: m.Symbol}
}
