package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller is the part of ethclient.Client the checker needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// NFTChecker reports a wallet as minted when it holds at least one token of
// an ERC-721 contract.
type NFTChecker struct {
	caller   Caller
	contract common.Address
	closeFn  func()
}

// Dial connects to rpcURL and returns a checker for contract.
func Dial(ctx context.Context, rpcURL, contract string) (*NFTChecker, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid nft contract address %q", contract)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}
	c := NewNFTChecker(client, common.HexToAddress(contract))
	c.closeFn = client.Close
	return c, nil
}

func NewNFTChecker(caller Caller, contract common.Address) *NFTChecker {
	return &NFTChecker{caller: caller, contract: contract}
}

func (c *NFTChecker) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// HasMinted calls balanceOf(wallet). Addresses that are not 20-byte EVM
// addresses cannot hold the token and report false.
func (c *NFTChecker) HasMinted(ctx context.Context, wallet string) (bool, error) {
	if !common.IsHexAddress(wallet) {
		return false, nil
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: balanceOfCalldata(common.HexToAddress(wallet)),
	}, nil)
	if err != nil {
		return false, fmt.Errorf("balanceOf %s: %w", wallet, err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("balanceOf %s: empty result", wallet)
	}
	return new(big.Int).SetBytes(out).Sign() > 0, nil
}

func balanceOfCalldata(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	return append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
}
