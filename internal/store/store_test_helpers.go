package store

import (
	"context"
	"database/sql"
)

// The store tests drive queries against function-field stubs instead of a
// live postgres. A nil hook means the call succeeds and returns zero values,
// so each test only wires the hooks it asserts on.

type stubDB struct {
	getFn    func(ctx context.Context, dest any, query string, args ...any) error
	selectFn func(ctx context.Context, dest any, query string, args ...any) error
	execFn   func(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s stubDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.getFn != nil {
		return s.getFn(ctx, dest, query, args...)
	}
	return nil
}

func (s stubDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.selectFn != nil {
		return s.selectFn(ctx, dest, query, args...)
	}
	return nil
}

func (s stubDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.execFn != nil {
		return s.execFn(ctx, query, args...)
	}
	return stubResult{}, nil
}

type stubExecer struct {
	execFn func(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s stubExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.execFn != nil {
		return s.execFn(ctx, query, args...)
	}
	return stubResult{}, nil
}

type stubGetter struct {
	getFn func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubGetter) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.getFn != nil {
		return s.getFn(ctx, dest, query, args...)
	}
	return nil
}

// stubTx stands in for the settlement transaction handle, which both writes
// ledger rows and re-reads wallet balances under lock.
type stubTx struct {
	execFn func(ctx context.Context, query string, args ...any) (sql.Result, error)
	getFn  func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.execFn != nil {
		return s.execFn(ctx, query, args...)
	}
	return stubResult{}, nil
}

func (s stubTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.getFn != nil {
		return s.getFn(ctx, dest, query, args...)
	}
	return nil
}

type stubResult struct {
	rows int64
	err  error
}

func (r stubResult) LastInsertId() (int64, error) {
	return 0, r.err
}

func (r stubResult) RowsAffected() (int64, error) {
	return r.rows, r.err
}
