package core

import (
	"fmt"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ledger"
	"OutcomeMarket/internal/lifecycle"
)

var (
	ErrNotOwner         = failure.Authorization("caller is not the owner")
	ErrComponentAccount = failure.Authorization("caller is a market component account")
	ErrUnknownAsset     = failure.Invalid("unknown asset")
)

func (c *DeterministicCore) dispatch(cmd command.Command) (Result, error) {
	m := c.market
	head := cmd.Head()
	sender, now := head.Sender, head.Timestamp

	// Pool, queue and lifecycle balances only move through their own
	// operations.
	if c.accounts[sender] {
		return Result{}, ErrComponentAccount
	}

	switch cmd := cmd.(type) {
	case *command.Deposit:
		if sender != c.owner {
			return Result{}, ErrNotOwner
		}
		return Result{Amount: cmd.Amount}, m.Collateral.Mint(cmd.To, cmd.Amount)

	case *command.Approve:
		token, err := c.token(cmd.Asset)
		if err != nil {
			return Result{}, err
		}
		return Result{Amount: cmd.Amount}, token.Approve(sender, cmd.Spender, cmd.Amount)

	case *command.Transfer:
		token, err := c.token(cmd.Asset)
		if err != nil {
			return Result{}, err
		}
		return Result{Amount: cmd.Amount}, token.Transfer(sender, cmd.To, cmd.Amount)

	case *command.Buy:
		tokens, err := m.Pool.Buy(sender, cmd.Side, cmd.MaxPrice, cmd.Payment)
		return Result{Amount: tokens}, err

	case *command.Sell:
		payout, err := m.Pool.Sell(sender, cmd.Side, cmd.MinPrice, cmd.Tokens)
		return Result{Amount: payout}, err

	case *command.AddLiquidity:
		shares, err := m.Pool.AddLiquidity(sender, cmd.Amount)
		return Result{Amount: shares}, err

	case *command.WithdrawLiquidity:
		out, err := m.Pool.WithdrawLiquidity(sender, cmd.Shares)
		return Result{Amount: out}, err

	case *command.AddCollateral:
		return Result{}, m.Pool.AddCollateral(sender, cmd.ForWhite, cmd.ForBlack)

	case *command.SetOrderer:
		return Result{}, m.Pool.SetOrderer(sender, cmd.Orderer, cmd.Restricted)

	case *command.CreateOrder:
		id, err := m.Queue.CreateOrder(sender, cmd.Amount, cmd.IsWhite, cmd.EventID)
		return Result{OrderID: id, Amount: cmd.Amount}, err

	case *command.CancelOrder:
		return Result{OrderID: cmd.OrderID}, m.Queue.CancelOrder(sender, cmd.OrderID)

	case *command.WithdrawCollateral:
		amount, err := m.Queue.WithdrawCollateral(sender)
		return Result{Amount: amount}, err

	case *command.EmergencyWithdrawCollateral:
		amount, err := m.Queue.EmergencyWithdrawCollateral(sender)
		return Result{Amount: amount}, err

	case *command.PrepareEvent:
		info, err := m.Lifecycle.Prepare(sender, now, prepareRequest(cmd.EventSpec))
		return eventResult(info, err)

	case *command.StartEvent:
		info, err := m.Lifecycle.Start(sender, now)
		return eventResult(info, err)

	case *command.EndEvent:
		info, err := m.Lifecycle.End(sender, now, cmd.Result)
		return eventResult(info, err)

	case *command.AddAndStartEvent:
		info, err := m.Lifecycle.AddAndStartEvent(sender, now, prepareRequest(cmd.EventSpec))
		return eventResult(info, err)

	case *command.AddOracle:
		return Result{}, m.Lifecycle.AddOracleAddress(sender, cmd.Oracle)

	case *command.RemoveOracle:
		return Result{}, m.Lifecycle.RemoveOracleAddress(sender, cmd.Oracle)

	default:
		return Result{}, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (c *DeterministicCore) token(asset string) (*ledger.Token, error) {
	id, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, ErrUnknownAsset
	}
	return c.market.Ledger.Token(id), nil
}

func prepareRequest(spec command.EventSpec) lifecycle.PrepareRequest {
	return lifecycle.PrepareRequest{
		EventID:         spec.EventID,
		PriceChangePart: spec.PriceChangePart,
		StartTimeout:    spec.StartTimeout(),
		EndTimeout:      spec.EndTimeout(),
		WhiteTeam:       spec.WhiteTeam,
		BlackTeam:       spec.BlackTeam,
		Category:        spec.Category,
		Series:          spec.Series,
	}
}

func eventResult(info event.EventInfo, err error) (Result, error) {
	if err != nil && !failure.IsCommitted(err) {
		return Result{}, err
	}
	return Result{Event: &info}, err
}
