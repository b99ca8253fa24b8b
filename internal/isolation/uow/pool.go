package uow

//go:generate mockgen -source=pool.go -destination=mocks/mocks.go -package=mocks Pool,Conn,Tx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool hands out connections. *pgxpool.Pool satisfies it through NewPgxPool.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stat() PoolStat
}

// Conn is one checked-out connection.
type Conn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (Tx, error)
	Release()
}

// Tx is an open transaction on a Conn.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PoolStat is the raw pool counters.
type PoolStat struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

// NewPgxPool adapts a pgx pool to Pool.
func NewPgxPool(p *pgxpool.Pool) Pool {
	return pgxPool{p: p}
}

type pgxPool struct {
	p *pgxpool.Pool
}

func (a pgxPool) Acquire(ctx context.Context) (Conn, error) {
	c, err := a.p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxConn{c: c}, nil
}

func (a pgxPool) Stat() PoolStat {
	s := a.p.Stat()
	return PoolStat{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		Acquired: s.AcquiredConns(),
		Max:      s.MaxConns(),
	}
}

type pgxConn struct {
	c *pgxpool.Conn
}

func (c pgxConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (Tx, error) {
	tx, err := c.c.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c pgxConn) Release() {
	c.c.Release()
}
