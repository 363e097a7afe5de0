package onchain

// pricer.go — último recurso: precio spot leído directamente del contrato del par.
//
// Para pares estilo Uniswap V2:
//   factory.getPair(token, quote) → pair
//   pair.getReserves() + pair.token0() → reservas ordenadas
//   precio = (reserveQuote / 10^decQuote) / (reserveToken / 10^decToken)
//
// El quote es un stablecoin USD, así que el precio ya está en USD.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// Solo hay precio actual: se acepta para consultas cercanas a now.
const freshness = 15 * time.Minute

// Factories V2 y stablecoins por defecto.
var defaultChains = map[string]struct{ factory, quote string }{
	"ethereum": {"0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f", "0xA0b86991c6218b36c1d19D4a2E9Eb0cE3606eB48"}, // Uniswap V2 / USDC
	"bsc":      {"0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73", "0x55d398326f99059fF775485246999027B3197955"}, // PancakeSwap V2 / USDT
	"base":     {"0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}, // Uniswap V2 / USDC
}

// Contract ABIs
var (
	factoryABI abi.ABI
	pairABI    abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error

	factoryABI, err = abi.JSON(strings.NewReader(`[
		{"name": "getPair", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "tokenA", "type": "address"}, {"name": "tokenB", "type": "address"}],
		 "outputs": [{"name": "pair", "type": "address"}]}
	]`))
	if err != nil {
		panic("factory abi parse: " + err.Error())
	}

	pairABI, err = abi.JSON(strings.NewReader(`[
		{"name": "getReserves", "type": "function", "stateMutability": "view", "inputs": [],
		 "outputs": [
			{"name": "reserve0", "type": "uint112"},
			{"name": "reserve1", "type": "uint112"},
			{"name": "blockTimestampLast", "type": "uint32"}
		 ]},
		{"name": "token0", "type": "function", "stateMutability": "view", "inputs": [],
		 "outputs": [{"name": "", "type": "address"}]}
	]`))
	if err != nil {
		panic("pair abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{"name": "decimals", "type": "function", "stateMutability": "view", "inputs": [],
		 "outputs": [{"name": "", "type": "uint8"}]}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// ChainConfig describe una cadena para Dial.
type ChainConfig struct {
	Name    string
	RPCURL  string
	Factory string // vacío = default de la cadena
	Quote   string // vacío = default de la cadena
}

// Chain es una cadena ya conectada.
type Chain struct {
	Name    string
	Caller  ethereum.ContractCaller
	Factory common.Address
	Quote   common.Address
}

// Pricer implementa ports.PriceProvider leyendo reservas on-chain.
type Pricer struct {
	chains map[string]Chain
	now    func() time.Time

	mu       sync.Mutex
	decimals map[string]uint8 // chain:address → decimals
}

var _ ports.PriceProvider = (*Pricer)(nil)

// NewPricer crea el proveedor con cadenas ya conectadas.
func NewPricer(chains []Chain, now func() time.Time) *Pricer {
	if now == nil {
		now = time.Now
	}
	p := &Pricer{
		chains:   make(map[string]Chain, len(chains)),
		now:      now,
		decimals: make(map[string]uint8),
	}
	for _, c := range chains {
		p.chains[strings.ToLower(c.Name)] = c
	}
	return p
}

// Dial conecta un ethclient por cadena configurada.
func Dial(ctx context.Context, cfgs []ChainConfig) (*Pricer, error) {
	chains := make([]Chain, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.RPCURL == "" {
			continue
		}
		name := strings.ToLower(cfg.Name)
		def := defaultChains[name]
		factory, quote := cfg.Factory, cfg.Quote
		if factory == "" {
			factory = def.factory
		}
		if quote == "" {
			quote = def.quote
		}
		if !common.IsHexAddress(factory) || !common.IsHexAddress(quote) {
			return nil, fmt.Errorf("onchain.Dial: chain %s: factory and quote addresses required", name)
		}

		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("onchain.Dial: dial rpc %s: %w", name, err)
		}
		chains = append(chains, Chain{
			Name:    name,
			Caller:  client,
			Factory: common.HexToAddress(factory),
			Quote:   common.HexToAddress(quote),
		})
	}
	return NewPricer(chains, time.Now), nil
}

func (p *Pricer) Name() string { return "onchain" }

// PointPrice devuelve el precio spot del par token/quote.
func (p *Pricer) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	chain, ok := p.chains[strings.ToLower(q.Chain)]
	if !ok || !common.IsHexAddress(q.Address) {
		return 0, fmt.Errorf("onchain: chain %q: %w", q.Chain, domain.ErrUnsupported)
	}
	if age := p.now().Sub(at); age > freshness || age < -freshness {
		return 0, fmt.Errorf("onchain: historical price: %w", domain.ErrUnsupported)
	}

	token := common.HexToAddress(q.Address)
	pair, err := p.getPair(ctx, chain, token)
	if err != nil {
		return 0, fmt.Errorf("onchain.PointPrice: %w", err)
	}
	if pair == (common.Address{}) {
		return 0, fmt.Errorf("onchain.PointPrice: no pair for %s: %w", q.Address, domain.ErrEmptyPayload)
	}

	reserveToken, reserveQuote, err := p.reserves(ctx, chain, pair, token)
	if err != nil {
		return 0, fmt.Errorf("onchain.PointPrice: %w", err)
	}
	if reserveToken.Sign() == 0 || reserveQuote.Sign() == 0 {
		return 0, fmt.Errorf("onchain.PointPrice: empty reserves: %w", domain.ErrEmptyPayload)
	}

	decToken, err := p.decimalsOf(ctx, chain, token)
	if err != nil {
		return 0, fmt.Errorf("onchain.PointPrice: token decimals: %w", err)
	}
	decQuote, err := p.decimalsOf(ctx, chain, chain.Quote)
	if err != nil {
		return 0, fmt.Errorf("onchain.PointPrice: quote decimals: %w", err)
	}

	price := new(big.Float).Quo(scale(reserveQuote, decQuote), scale(reserveToken, decToken))
	f, _ := price.Float64()
	return f, nil
}

func (p *Pricer) Candles(context.Context, ports.PriceQuery, time.Time, int) (domain.CandleSeries, error) {
	return domain.CandleSeries{}, fmt.Errorf("onchain: candles: %w", domain.ErrUnsupported)
}

func (p *Pricer) getPair(ctx context.Context, chain Chain, token common.Address) (common.Address, error) {
	out, err := call(ctx, chain.Caller, chain.Factory, factoryABI, "getPair", token, chain.Quote)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// reserves devuelve (reserveToken, reserveQuote) según el orden token0/token1 del par.
func (p *Pricer) reserves(ctx context.Context, chain Chain, pair, token common.Address) (*big.Int, *big.Int, error) {
	t0, err := call(ctx, chain.Caller, pair, pairABI, "token0")
	if err != nil {
		return nil, nil, err
	}
	res, err := call(ctx, chain.Caller, pair, pairABI, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	r0, r1 := res[0].(*big.Int), res[1].(*big.Int)
	if t0[0].(common.Address) == token {
		return r0, r1, nil
	}
	return r1, r0, nil
}

func (p *Pricer) decimalsOf(ctx context.Context, chain Chain, token common.Address) (uint8, error) {
	key := chain.Name + ":" + token.Hex()
	p.mu.Lock()
	d, ok := p.decimals[key]
	p.mu.Unlock()
	if ok {
		return d, nil
	}

	out, err := call(ctx, chain.Caller, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	d = out[0].(uint8)

	p.mu.Lock()
	p.decimals[key] = d
	p.mu.Unlock()
	return d, nil
}

// call empaqueta, ejecuta eth_call y desempaqueta.
func call(ctx context.Context, caller ethereum.ContractCaller, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack %s: %w", method, domain.ErrEmptyPayload)
	}
	return vals, nil
}

func scale(v *big.Int, decimals uint8) *big.Float {
	denom := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(new(big.Float).SetInt(v), denom)
}
