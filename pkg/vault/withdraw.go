package vault

// Two-phase withdrawal: request escrows shares out of the owner's
// position and records a maturity time; completion burns the shares and
// pays out at the price prevailing at completion, not at request time.
// The estimate recorded on the request is informational only.

// RequestWithdraw escrows shares from owner's position and creates a
// pending withdrawal request that matures after MaturityDelay. Vault
// totals are untouched: the shares stay outstanding but are no longer
// spendable by the owner.
func (v *Vault) RequestWithdraw(owner string, shares uint64) (WithdrawRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares == 0 {
		return WithdrawRequest{}, ErrZeroAmount
	}
	if v.config.IsPaused {
		return WithdrawRequest{}, ErrVaultPaused
	}
	pos, ok := v.positions[owner]
	if !ok {
		return WithdrawRequest{}, ErrPositionNotFound
	}
	if pos.Shares < shares {
		return WithdrawRequest{}, ErrInsufficientShares
	}

	estimated, err := ValueForShares(shares, v.totalValue, v.totalShares)
	if err != nil {
		return WithdrawRequest{}, err
	}

	now := v.clock.Now()
	req := &WithdrawRequest{
		ID:             v.nextRequestID,
		Owner:          owner,
		Shares:         shares,
		EstimatedValue: estimated,
		CreatedAt:      now,
		ReadyAt:        now.Add(MaturityDelay),
		Status:         WithdrawPending,
		RequestIndex:   pos.PendingWithdrawals,
	}
	v.nextRequestID++
	v.requests[req.ID] = req

	pos.Shares -= shares
	pos.PendingWithdrawals++
	pos.LastActivity = now

	v.logger.Info("Withdrawal requested",
		"owner", owner,
		"requestID", req.ID,
		"shares", shares,
		"estimatedValue", estimated,
		"readyAt", req.ReadyAt)

	v.persistPosition(pos)
	v.persistRequest(req)
	v.emit(EventWithdrawRequested, WithdrawRequestData{
		Owner:          owner,
		RequestID:      req.ID,
		Shares:         shares,
		EstimatedValue: estimated,
		ReadyAt:        req.ReadyAt,
	})
	return *req, nil
}

// CompleteWithdraw settles a matured request: burns the escrowed
// shares, transfers the re-priced value out of custody and updates the
// ledger. If vault liquidity cannot cover the payout the request stays
// pending and may be retried once value is replenished.
func (v *Vault) CompleteWithdraw(caller string, requestID uint64) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.requests[requestID]
	if !ok {
		return 0, ErrWithdrawNotFound
	}
	if req.Owner != caller {
		return 0, ErrNotRequestOwner
	}
	if req.Status != WithdrawPending {
		return 0, ErrWithdrawAlreadyProcessed
	}
	now := v.clock.Now()
	if now.Before(req.ReadyAt) {
		return 0, ErrWithdrawNotReady
	}

	// Re-price at the current share price; drift since the request is
	// expected.
	actual, err := ValueForShares(req.Shares, v.totalValue, v.totalShares)
	if err != nil {
		return 0, err
	}
	if v.totalValue < actual {
		return 0, ErrInsufficientLiquidity
	}
	newShares, err := CheckedSub(v.totalShares, req.Shares)
	if err != nil {
		return 0, err
	}

	pos := v.positions[req.Owner]
	if err := v.issuer.Burn(req.Owner, req.Shares); err != nil {
		return 0, err
	}
	if err := v.custody.MoveValue(v.custodyAccount, req.Owner, actual); err != nil {
		if rbErr := v.issuer.Mint(req.Owner, req.Shares); rbErr != nil {
			v.logger.Error("Share re-mint failed after custody failure",
				"owner", req.Owner, "shares", req.Shares, "error", rbErr)
		}
		return 0, err
	}

	v.totalValue -= actual
	v.totalShares = newShares
	pos.TotalWithdrawn += actual
	pos.PendingWithdrawals--
	pos.LastActivity = now
	req.Status = WithdrawCompleted

	v.logger.Info("Withdrawal completed",
		"owner", req.Owner,
		"requestID", requestID,
		"shares", req.Shares,
		"value", actual)

	v.persistLedger()
	v.persistPosition(pos)
	v.persistRequest(req)
	v.emit(EventWithdrawCompleted, WithdrawCompleteData{
		Owner:         req.Owner,
		RequestID:     requestID,
		Shares:        req.Shares,
		ValueReceived: actual,
	})
	return actual, nil
}

// CancelWithdraw aborts a pending request and returns the escrowed
// shares to the owner's position. The engine's own flows never cancel;
// this entry point exists for the integrating host.
func (v *Vault) CancelWithdraw(caller string, requestID uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.requests[requestID]
	if !ok {
		return ErrWithdrawNotFound
	}
	if req.Owner != caller {
		return ErrNotRequestOwner
	}
	if req.Status != WithdrawPending {
		return ErrWithdrawAlreadyProcessed
	}

	now := v.clock.Now()
	pos := v.positions[req.Owner]
	pos.Shares += req.Shares
	pos.PendingWithdrawals--
	pos.LastActivity = now
	req.Status = WithdrawCancelled

	v.logger.Info("Withdrawal cancelled",
		"owner", req.Owner,
		"requestID", requestID,
		"shares", req.Shares)

	v.persistPosition(pos)
	v.persistRequest(req)
	v.emit(EventWithdrawCancelled, WithdrawCompleteData{
		Owner:     req.Owner,
		RequestID: requestID,
		Shares:    req.Shares,
	})
	return nil
}

// PendingRequests returns copies of all requests for owner that are
// still pending, with derived readiness applied.
func (v *Vault) PendingRequests(owner string) []WithdrawRequest {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	var out []WithdrawRequest
	for _, req := range v.requests {
		if req.Owner != owner || req.Status != WithdrawPending {
			continue
		}
		r := *req
		if !now.Before(r.ReadyAt) {
			r.Status = WithdrawReady
		}
		out = append(out, r)
	}
	return out
}
