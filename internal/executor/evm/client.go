package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/executor"
)

// erc20TransferABI is the minimal fragment needed to call transfer on the
// token system contract.
const erc20TransferABI = `[{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

// Config describes how to construct the EVM submitter.
type Config struct {
	RPCURL         string
	PrivateKeyHex  string
	TokenAddress   string
	TokenDecimals  int32
	ConfirmTimeout time.Duration
}

// Client submits ERC-20 transfers on an EVM compatible chain and waits for
// one confirmation. It implements executor.Submitter.
type Client struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	auth      *bind.TransactOpts
	contract  *bind.BoundContract
	decimals  int32
	confirm   time.Duration

	// Submissions share a single signing identity; the lock keeps nonce
	// assignment strictly ordered across concurrent turns and, with the
	// Redis implementation, across replicas.
	lock Locker
	mu   sync.Mutex
}

var _ executor.Submitter = (*Client)(nil)

// NewClient dials the RPC endpoint, derives the signing identity and binds
// the token contract.
func NewClient(ctx context.Context, cfg Config, lock Locker) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置结算层 RPC 地址")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥")
	}
	tokenAddress := strings.TrimSpace(cfg.TokenAddress)
	if tokenAddress == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代币合约地址")
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析签名私钥失败")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接结算层节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取链 ID 失败")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "构造交易签名器失败")
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 ERC-20 ABI 失败")
	}
	contract := bind.NewBoundContract(common.HexToAddress(tokenAddress), parsedABI, eth, eth, eth)

	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	if lock == nil {
		lock = NewProcessLock()
	}

	return &Client{
		rpcClient: rpcClient,
		eth:       eth,
		auth:      auth,
		contract:  contract,
		decimals:  decimals,
		confirm:   cfg.ConfirmTimeout,
		lock:      lock,
	}, nil
}

// Submit sends a single transfer and waits for one confirmation.
func (c *Client) Submit(ctx context.Context, recipient string, amount decimal.Decimal) (executor.Receipt, error) {
	if c == nil || c.contract == nil {
		return executor.Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "结算客户端未初始化")
	}

	units, err := toTokenUnits(amount, c.decimals)
	if err != nil {
		return executor.Receipt{}, err
	}

	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return executor.Receipt{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "获取提交锁失败")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = release(releaseCtx)
	}()

	tx, err := c.transact(ctx, common.HexToAddress(recipient), units)
	if err != nil {
		return executor.Receipt{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "广播转账交易失败")
	}

	waitCtx := ctx
	if c.confirm > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.confirm)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The transfer may still confirm later; the hash lets an
			// operator resolve the unknown outcome by hand.
			return executor.Receipt{}, xerrors.Wrap(xerrors.CodeTimeout, err,
				fmt.Sprintf("等待确认超时（%s），交易 %s 结果未知", c.confirm, tx.Hash().Hex()))
		}
		return executor.Receipt{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "等待交易确认失败")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return executor.Receipt{}, xerrors.New(xerrors.CodeExecutionFailure,
			fmt.Sprintf("交易 %s 在链上回滚", tx.Hash().Hex()))
	}

	return executor.Receipt{TxHash: tx.Hash().Hex()}, nil
}

func (c *Client) transact(ctx context.Context, to common.Address, units *big.Int) (*coretypes.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	return c.contract.Transact(&opts, "transfer", to, units)
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	if closer, ok := c.lock.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// toTokenUnits converts a decimal amount to the token's integer base units.
func toTokenUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("金额 %s 超过代币精度（%d 位小数）", amount, decimals))
	}
	return shifted.BigInt(), nil
}
