package spot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

var ErrBadCommand = errors.New("malformed command")

type Op string

const (
	OpBuy        Op = "BUY"
	OpSell       Op = "SELL"
	OpMarketBuy  Op = "MBUY"
	OpMarketSell Op = "MSELL"
	OpCancel     Op = "CANCEL"
	OpDeposit    Op = "DEPOSIT"
	OpWithdraw   Op = "WITHDRAW"
)

// Command is one engine operation in its text form:
//
//	BUY <price> <qty> [trader]
//	SELL <price> <qty> [trader]
//	MBUY <qty> [trader]
//	MSELL <qty> [trader]
//	CANCEL <BUY|SELL> <id>
//	DEPOSIT <asset> <amount>
//	WITHDRAW <asset> <amount>
type Command struct {
	Op     Op
	Side   orderbook.Side // CANCEL
	Price  uint64
	Qty    uint64 // order quantity, or the custody amount
	ID     uint64
	Asset  string
	Trader *common.Address // nil means the operator
}

func ParseCommand(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, errors.Wrap(ErrBadCommand, "empty")
	}
	cmd := Command{Op: Op(strings.ToUpper(f[0]))}
	args := f[1:]

	var err error
	switch cmd.Op {
	case OpBuy, OpSell:
		if len(args) < 2 || len(args) > 3 {
			return Command{}, usage(cmd.Op, "<price> <qty> [trader]")
		}
		if cmd.Price, err = parseUint(args[0], "price"); err != nil {
			return Command{}, err
		}
		if cmd.Qty, err = parseUint(args[1], "qty"); err != nil {
			return Command{}, err
		}
		if len(args) == 3 {
			if cmd.Trader, err = parseTrader(args[2]); err != nil {
				return Command{}, err
			}
		}
	case OpMarketBuy, OpMarketSell:
		if len(args) < 1 || len(args) > 2 {
			return Command{}, usage(cmd.Op, "<qty> [trader]")
		}
		if cmd.Qty, err = parseUint(args[0], "qty"); err != nil {
			return Command{}, err
		}
		if len(args) == 2 {
			if cmd.Trader, err = parseTrader(args[1]); err != nil {
				return Command{}, err
			}
		}
	case OpCancel:
		if len(args) != 2 {
			return Command{}, usage(cmd.Op, "<BUY|SELL> <id>")
		}
		side, ok := orderbook.ParseSide(args[0])
		if !ok {
			return Command{}, errors.Wrapf(ErrBadCommand, "side %q", args[0])
		}
		cmd.Side = side
		if cmd.ID, err = parseUint(args[1], "id"); err != nil {
			return Command{}, err
		}
	case OpDeposit, OpWithdraw:
		if len(args) != 2 {
			return Command{}, usage(cmd.Op, "<asset> <amount>")
		}
		cmd.Asset = args[0]
		if cmd.Qty, err = parseUint(args[1], "amount"); err != nil {
			return Command{}, err
		}
	default:
		return Command{}, errors.Wrapf(ErrBadCommand, "unknown verb %q", f[0])
	}
	return cmd, nil
}

// String renders the canonical form written to the journal.
func (c Command) String() string {
	var trader string
	if c.Trader != nil {
		trader = " " + c.Trader.Hex()
	}
	switch c.Op {
	case OpBuy, OpSell:
		return fmt.Sprintf("%s %d %d%s", c.Op, c.Price, c.Qty, trader)
	case OpMarketBuy, OpMarketSell:
		return fmt.Sprintf("%s %d%s", c.Op, c.Qty, trader)
	case OpCancel:
		return fmt.Sprintf("%s %s %d", c.Op, strings.ToUpper(c.Side.String()), c.ID)
	default:
		return fmt.Sprintf("%s %s %d", c.Op, c.Asset, c.Qty)
	}
}

func usage(op Op, args string) error {
	return errors.Wrapf(ErrBadCommand, "usage: %s %s", op, args)
}

func parseUint(s, name string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadCommand, "%s %q", name, s)
	}
	return v, nil
}

func parseTrader(s string) (*common.Address, error) {
	if !common.IsHexAddress(s) {
		return nil, errors.Wrapf(ErrBadCommand, "trader %q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	return &addr, nil
}
