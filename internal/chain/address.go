// Package chain validates on-chain identifiers attached to crypto wallet nodes.
package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/bridgetrace/internal/graph"
)

var (
	ErrUnknownNetwork = errors.New("chain: unknown bitcoin network")
	ErrInvalidAddress = errors.New("chain: invalid bitcoin address")
)

// Params maps a network name to its chain parameters.
func Params(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// AddressValidator accepts base58 and bech32/bech32m addresses that decode
// for network.
func AddressValidator(network string) (graph.AddressValidator, error) {
	params, err := Params(network)
	if err != nil {
		return nil, err
	}
	return func(address string) error {
		_, err := Decode(address, params)
		return err
	}, nil
}

// Decode parses address and checks it belongs to params' network.
func Decode(address string, params *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, address, params.Name)
	}
	return addr, nil
}

// Kind names the script template of a decoded address.
func Kind(addr btcutil.Address) string {
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return "p2pkh"
	case *btcutil.AddressScriptHash:
		return "p2sh"
	case *btcutil.AddressWitnessPubKeyHash:
		return "p2wpkh"
	case *btcutil.AddressWitnessScriptHash:
		return "p2wsh"
	case *btcutil.AddressTaproot:
		return "p2tr"
	default:
		return "unknown"
	}
}
