package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"crowdfund/internal/campaign"
	"crowdfund/internal/contracts"
	"crowdfund/internal/units"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthContract talks to the crowdfunding contract over JSON-RPC.
type EthContract struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	network  Network
	caller   common.Address
}

// Config is everything needed to construct an EthContract. Construction holds
// no shared state, so callers may build one per request.
type Config struct {
	Network Network
	// Caller is used as the sender of read calls. Optional.
	Caller string
}

func Dial(ctx context.Context, cfg Config) (*EthContract, error) {
	if cfg.Network.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Network.Contract) {
		return nil, fmt.Errorf("contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.CrowdfundingABI))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.Network.ChainID != 0 && chainID.Cmp(big.NewInt(cfg.Network.ChainID)) != 0 {
		cli.Close()
		return nil, fmt.Errorf("%w: endpoint serves chain %s, network %q expects %d",
			ErrWrongNetwork, chainID, cfg.Network.Name, cfg.Network.ChainID)
	}

	address := common.HexToAddress(cfg.Network.Contract)
	var caller common.Address
	if common.IsHexAddress(cfg.Caller) {
		caller = common.HexToAddress(cfg.Caller)
	}

	return &EthContract{
		client:   cli,
		contract: bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:      parsedABI,
		address:  address,
		chainID:  chainID,
		network:  cfg.Network,
		caller:   caller,
	}, nil
}

func (c *EthContract) Close() {
	c.client.Close()
}

func (c *EthContract) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.caller}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, classify(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *EthContract) callAmount(ctx context.Context, method string, args ...interface{}) (units.Amount, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	v := *abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	return units.FromBigInt(&v)
}

func (c *EthContract) TotalRaised(ctx context.Context) (units.Amount, error) {
	return c.callAmount(ctx, MethodGetTotalRaised)
}

// Donation reads donor's total. A revert means the contract holds no record
// for donor; node faults are returned as they are.
func (c *EthContract) Donation(ctx context.Context, donor string) (units.Amount, error) {
	if !common.IsHexAddress(donor) {
		return 0, fmt.Errorf("invalid donor address %q", donor)
	}
	amount, err := c.callAmount(ctx, MethodGetDonation, common.HexToAddress(donor))
	if errors.Is(err, ErrRejected) {
		return 0, fmt.Errorf("%w: %v", ErrNoRecord, err)
	}
	return amount, err
}

func (c *EthContract) MinDonation(ctx context.Context) (units.Amount, error) {
	return c.callAmount(ctx, MethodGetMinDonation)
}

func (c *EthContract) CampaignInfo(ctx context.Context) (campaign.Info, error) {
	out, err := c.call(ctx, MethodGetCampaignInfo)
	if err != nil {
		return campaign.Info{}, err
	}
	if len(out) != 8 {
		return campaign.Info{}, fmt.Errorf("%s: expected 8 values, got %d", MethodGetCampaignInfo, len(out))
	}

	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	goalRaw := *abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	deadline := *abi.ConvertType(out[2], new(uint64)).(*uint64)
	title := *abi.ConvertType(out[3], new(string)).(*string)
	description := *abi.ConvertType(out[4], new(string)).(*string)
	image := *abi.ConvertType(out[5], new(string)).(*string)
	minRaw := *abi.ConvertType(out[6], new(big.Int)).(*big.Int)
	statusCode := *abi.ConvertType(out[7], new(uint32)).(*uint32)

	goal, err := units.FromBigInt(&goalRaw)
	if err != nil {
		return campaign.Info{}, fmt.Errorf("goal: %w", err)
	}
	minDonation, err := units.FromBigInt(&minRaw)
	if err != nil {
		return campaign.Info{}, fmt.Errorf("min donation: %w", err)
	}
	status, err := campaign.StatusFromCode(statusCode)
	if err != nil {
		return campaign.Info{}, err
	}

	return campaign.Info{
		Owner:       owner.Hex(),
		Title:       title,
		Description: description,
		ImageURL:    image,
		Goal:        goal,
		Deadline:    time.Unix(int64(deadline), 0),
		Status:      status,
		MinDonation: minDonation,
	}, nil
}

func (c *EthContract) DeadlinePassed(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, MethodIsDeadlinePassed)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *EthContract) CampaignStatus(ctx context.Context) (campaign.Status, error) {
	out, err := c.call(ctx, MethodGetCampaignStatus)
	if err != nil {
		return 0, err
	}
	return campaign.StatusFromCode(*abi.ConvertType(out[0], new(uint32)).(*uint32))
}

func (c *EthContract) ProgressBasisPoints(ctx context.Context) (uint32, error) {
	out, err := c.call(ctx, MethodGetProgress)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint32)).(*uint32), nil
}

func (c *EthContract) Initialized(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, MethodGetIsAlreadyInit)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

type donorEntry struct {
	Donor  common.Address
	Amount *big.Int
}

func (c *EthContract) Donors(ctx context.Context) ([]campaign.Donation, error) {
	out, err := c.call(ctx, MethodGetAllDonors)
	if err != nil {
		return nil, err
	}
	entries := *abi.ConvertType(out[0], new([]donorEntry)).(*[]donorEntry)
	donations := make([]campaign.Donation, 0, len(entries))
	for _, e := range entries {
		amount, err := units.FromBigInt(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("donor %s: %w", e.Donor.Hex(), err)
		}
		donations = append(donations, campaign.Donation{Donor: e.Donor.Hex(), Amount: amount})
	}
	return donations, nil
}

// Supports probes a no-argument read entry point.
func (c *EthContract) Supports(ctx context.Context, method string) (bool, error) {
	m, ok := c.abi.Methods[method]
	if !ok || len(m.Inputs) != 0 {
		return false, nil
	}
	code, err := c.client.CodeAt(ctx, c.address, nil)
	if err != nil {
		return false, err
	}
	if len(code) == 0 {
		return false, nil
	}
	data, err := c.abi.Pack(method)
	if err != nil {
		return false, err
	}
	if _, err := c.client.CallContract(ctx, ethereum.CallMsg{From: c.caller, To: &c.address, Data: data}, nil); err != nil {
		if errors.Is(classify(err), ErrRejected) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *EthContract) Build(ctx context.Context, op campaign.Operation) (Envelope, error) {
	if !common.IsHexAddress(op.Source()) {
		return Envelope{}, fmt.Errorf("invalid source address %q", op.Source())
	}
	args, err := packArgs(op)
	if err != nil {
		return Envelope{}, err
	}
	data, err := c.abi.Pack(op.Method(), args...)
	if err != nil {
		return Envelope{}, fmt.Errorf("pack %s: %w", op.Method(), err)
	}

	from := common.HexToAddress(op.Source())
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return Envelope{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.address, Data: data})
	if err != nil {
		return Envelope{}, fmt.Errorf("simulate %s: %w", op.Method(), classify(err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.address,
		Value:    new(big.Int),
		Data:     data,
	})
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}

	return Envelope{
		Method:            op.Method(),
		Source:            from.Hex(),
		NetworkPassphrase: c.network.Passphrase,
		Raw:               raw,
	}, nil
}

func (c *EthContract) Broadcast(ctx context.Context, signed SignedEnvelope) (string, error) {
	if signed.NetworkPassphrase != c.network.Passphrase {
		return "", fmt.Errorf("%w: %q", ErrWrongNetwork, signed.NetworkPassphrase)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return "", fmt.Errorf("decode signed envelope: %w", err)
	}
	if tx.ChainId().Cmp(c.chainID) != 0 {
		return "", fmt.Errorf("%w: signed for chain %s", ErrWrongNetwork, tx.ChainId())
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("send transaction: %w", classify(err))
	}
	return tx.Hash().Hex(), nil
}

func (c *EthContract) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	h := common.HexToHash(hash)
	receipt, err := c.client.TransactionReceipt(ctx, h)
	if errors.Is(err, ethereum.NotFound) {
		return TxStatus{State: TxPending}, nil
	}
	if err != nil {
		return TxStatus{}, err
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxStatus{State: TxSuccess}, nil
	}
	return TxStatus{State: TxFailed, Detail: c.failureReason(ctx, h, receipt)}, nil
}

// failureReason replays a failed transaction at its block to recover the
// revert reason.
func (c *EthContract) failureReason(ctx context.Context, hash common.Hash, receipt *types.Receipt) string {
	const fallback = "execution reverted"
	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return fallback
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fallback
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	if _, err := c.client.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
		return revertReason(err)
	}
	return fallback
}

func packArgs(op campaign.Operation) ([]interface{}, error) {
	switch o := op.(type) {
	case campaign.Donate:
		return []interface{}{common.HexToAddress(o.Donor), o.Amount.BigInt()}, nil
	case campaign.Withdraw:
		return []interface{}{common.HexToAddress(o.Owner)}, nil
	case campaign.Refund:
		return []interface{}{common.HexToAddress(o.Donor)}, nil
	case campaign.Initialize:
		if !common.IsHexAddress(o.Token) {
			return nil, fmt.Errorf("invalid token address %q", o.Token)
		}
		return []interface{}{
			common.HexToAddress(o.Owner),
			o.Goal.BigInt(),
			uint64(o.Deadline.Unix()),
			common.HexToAddress(o.Token),
			o.Title,
			o.Description,
			o.ImageURL,
			o.MinDonation.BigInt(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported operation %T", op)
	}
}

// classify wraps EVM reverts in RejectedError. Every other node error, such
// as a rate limit or an internal error, stays a transport fault.
func classify(err error) error {
	if err == nil || !isRevert(err) {
		return err
	}
	return &RejectedError{Reason: revertReason(err), Err: err}
}

func isRevert(err error) bool {
	if strings.Contains(err.Error(), "execution reverted") {
		return true
	}
	_, ok := revertData(err)
	return ok
}

// revertData returns the ABI-encoded revert payload attached to err.
func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	s, ok := dataErr.ErrorData().(string)
	if !ok {
		return nil, false
	}
	raw, decErr := hexutil.Decode(s)
	if decErr != nil || len(raw) < 4 {
		return nil, false
	}
	return raw, true
}

func revertReason(err error) string {
	if raw, ok := revertData(err); ok {
		if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
			return reason
		}
	}
	return err.Error()
}
