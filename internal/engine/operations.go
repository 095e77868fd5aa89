package engine

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/model"
)

// DepositCollateral credits amount of asset to user and pulls it into custody.
func (e *Engine) DepositCollateral(ctx context.Context, user, asset string, amount *uint256.Int) error {
	return e.run(ctx, model.OpDeposit, func(o *op) error {
		return o.deposit(user, asset, amount)
	})
}

// MintDsc raises user's debt and issues amount of DSC if the position stays
// healthy.
func (e *Engine) MintDsc(ctx context.Context, user string, amount *uint256.Int) error {
	return e.run(ctx, model.OpMint, func(o *op) error {
		return o.mint(user, amount)
	})
}

// DepositCollateralAndMintDsc deposits then mints in one operation.
func (e *Engine) DepositCollateralAndMintDsc(ctx context.Context, user, asset string, collateral, debt *uint256.Int) error {
	return e.run(ctx, model.OpDepositAndMint, func(o *op) error {
		if err := o.deposit(user, asset, collateral); err != nil {
			return err
		}
		return o.mint(user, debt)
	})
}

// RedeemCollateral returns amount of asset to user. The remaining position
// must stay healthy.
func (e *Engine) RedeemCollateral(ctx context.Context, user, asset string, amount *uint256.Int) error {
	return e.run(ctx, model.OpRedeem, func(o *op) error {
		if err := o.redeem(user, user, asset, amount); err != nil {
			return err
		}
		return o.requireHealthy(user)
	})
}

// BurnDsc retires amount of the user's DSC against their debt.
func (e *Engine) BurnDsc(ctx context.Context, user string, amount *uint256.Int) error {
	return e.run(ctx, model.OpBurn, func(o *op) error {
		if err := o.burn(user, user, amount); err != nil {
			return err
		}
		return o.requireHealthy(user)
	})
}

// RedeemCollateralForDsc burns debt then redeems collateral in one operation.
func (e *Engine) RedeemCollateralForDsc(ctx context.Context, user, asset string, collateral, debt *uint256.Int) error {
	return e.run(ctx, model.OpRedeemForDsc, func(o *op) error {
		if err := o.burn(user, user, debt); err != nil {
			return err
		}
		if err := o.redeem(user, user, asset, collateral); err != nil {
			return err
		}
		return o.requireHealthy(user)
	})
}

func (o *op) deposit(user, asset string, amount *uint256.Int) error {
	if err := o.requireAsset(asset, amount); err != nil {
		return err
	}
	if err := o.tx.IncreaseCollateral(user, asset, amount); err != nil {
		return ledgerErr(err)
	}
	amt := new(uint256.Int).Set(amount)
	custody := o.e.custody
	o.stage("pull "+asset,
		func(ctx context.Context) error { return custody.Pull(ctx, asset, user, amt) },
		func(ctx context.Context) error { return custody.Push(ctx, asset, user, amt) },
	)
	o.emit(Event{Type: EventCollateralDeposited, User: user, Asset: asset, Amount: amt})
	return nil
}

func (o *op) mint(user string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if err := o.tx.IncreaseDebt(user, amount); err != nil {
		return ledgerErr(err)
	}
	if err := o.requireHealthy(user); err != nil {
		return err
	}
	amt := new(uint256.Int).Set(amount)
	debt := o.e.debt
	o.stage("issue",
		func(ctx context.Context) error { return debt.Issue(ctx, user, amt) },
		func(ctx context.Context) error { return debt.Retire(ctx, user, amt) },
	)
	o.emit(Event{Type: EventDscMinted, User: user, Amount: amt})
	return nil
}

// redeem debits from's collateral and pays it out to to. Callers check
// solvency afterwards.
func (o *op) redeem(from, to, asset string, amount *uint256.Int) error {
	if err := o.requireAsset(asset, amount); err != nil {
		return err
	}
	if err := o.tx.DecreaseCollateral(from, asset, amount); err != nil {
		return ledgerErr(err)
	}
	amt := new(uint256.Int).Set(amount)
	custody := o.e.custody
	o.stage("push "+asset,
		func(ctx context.Context) error { return custody.Push(ctx, asset, to, amt) },
		func(ctx context.Context) error { return custody.Pull(ctx, asset, to, amt) },
	)
	o.emit(Event{Type: EventCollateralRedeemed, From: from, To: to, Asset: asset, Amount: amt})
	return nil
}

// burn retires amount of DSC held by payer against onBehalfOf's debt.
func (o *op) burn(onBehalfOf, payer string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if err := o.tx.DecreaseDebt(onBehalfOf, amount); err != nil {
		return ledgerErr(err)
	}
	amt := new(uint256.Int).Set(amount)
	debt := o.e.debt
	o.stage("retire",
		func(ctx context.Context) error { return debt.Retire(ctx, payer, amt) },
		func(ctx context.Context) error { return debt.Issue(ctx, payer, amt) },
	)
	o.emit(Event{Type: EventDscBurned, User: onBehalfOf, From: payer, Amount: amt})
	return nil
}
