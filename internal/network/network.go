// Package network describes the fixed identity of the Lestnet chain. The value
// is passed explicitly into constructors so tests can point the SDK at local
// endpoints without touching package level state.
package network

import (
	"errors"
	"math/big"
	"strings"
)

const (
	// ChainID is the EIP-155 chain identifier of Lestnet.
	ChainID uint64 = 21363
	// HTTPURL is the public JSON-RPC endpoint.
	HTTPURL = "https://service.lestnet.org"
	// WSURL is the public streaming JSON-RPC endpoint.
	WSURL = "wss://service.lestnet.org/ws"
	// ExplorerURL is the block explorer root.
	ExplorerURL = "https://explorer.lestnet.org"
	// FaucetURL accepts POST requests with a JSON address payload.
	FaucetURL = "https://faucet.lestnet.org/api/v1/faucet"
	// EVMFork names the execution rules the network runs.
	EVMFork = "cancun"
	// Decimals is the precision of the native token.
	Decimals = 18
	// Symbol is the ticker of the native token.
	Symbol = "LETH"
)

// Currency describes the native token.
type Currency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// Network is an immutable description of the chain the SDK talks to.
type Network struct {
	Name        string   `yaml:"name" json:"name"`
	ChainID     uint64   `yaml:"chain_id" json:"chainId"`
	HTTPURL     string   `yaml:"http_url" json:"httpUrl"`
	WSURL       string   `yaml:"ws_url" json:"wsUrl"`
	ExplorerURL string   `yaml:"explorer_url" json:"explorerUrl"`
	FaucetURL   string   `yaml:"faucet_url" json:"faucetUrl"`
	EVMFork     string   `yaml:"evm_fork" json:"evmFork"`
	Currency    Currency `yaml:"currency" json:"nativeCurrency"`
}

// Default returns the Lestnet definition.
func Default() Network {
	return Network{
		Name:        "Lestnet",
		ChainID:     ChainID,
		HTTPURL:     HTTPURL,
		WSURL:       WSURL,
		ExplorerURL: ExplorerURL,
		FaucetURL:   FaucetURL,
		EVMFork:     EVMFork,
		Currency: Currency{
			Name:     Symbol,
			Symbol:   Symbol,
			Decimals: Decimals,
		},
	}
}

// ChainIDBig returns the chain id as a fresh big integer.
func (n Network) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// TxURL links a transaction hash to the explorer.
func (n Network) TxURL(hash string) string {
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}

// AddressURL links an account to the explorer.
func (n Network) AddressURL(address string) string {
	return strings.TrimRight(n.ExplorerURL, "/") + "/address/" + address
}

// WithDefaults fills empty fields from Default. Overrides such as a local RPC
// endpoint keep the remaining Lestnet metadata.
func (n Network) WithDefaults() Network {
	def := Default()
	if strings.TrimSpace(n.Name) == "" {
		n.Name = def.Name
	}
	if n.ChainID == 0 {
		n.ChainID = def.ChainID
	}
	if strings.TrimSpace(n.HTTPURL) == "" {
		n.HTTPURL = def.HTTPURL
	}
	if strings.TrimSpace(n.WSURL) == "" {
		n.WSURL = def.WSURL
	}
	if strings.TrimSpace(n.ExplorerURL) == "" {
		n.ExplorerURL = def.ExplorerURL
	}
	if strings.TrimSpace(n.FaucetURL) == "" {
		n.FaucetURL = def.FaucetURL
	}
	if strings.TrimSpace(n.EVMFork) == "" {
		n.EVMFork = def.EVMFork
	}
	if n.Currency.Symbol == "" {
		n.Currency.Symbol = def.Currency.Symbol
	}
	if n.Currency.Name == "" {
		n.Currency.Name = def.Currency.Name
	}
	if n.Currency.Decimals == 0 {
		n.Currency.Decimals = def.Currency.Decimals
	}
	return n
}

// Validate reports configuration mistakes that would make every call fail.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return errors.New("network: chain id is required")
	}
	if strings.TrimSpace(n.HTTPURL) == "" && strings.TrimSpace(n.WSURL) == "" {
		return errors.New("network: at least one rpc endpoint is required")
	}
	if n.Currency.Decimals < 0 {
		return errors.New("network: currency decimals must not be negative")
	}
	return nil
}
