package querylog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type startKey struct{}

type started struct {
	sql string
	at  time.Time
}

// Tracer records every query executed on a pgx connection into a Ring.
type Tracer struct {
	Ring *Ring
}

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, startKey{}, started{sql: data.SQL, at: time.Now()})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	s, ok := ctx.Value(startKey{}).(started)
	if !ok {
		return
	}
	e := Entry{SQL: s.sql, Duration: time.Since(s.at), At: s.at}
	if data.Err != nil {
		e.Err = data.Err.Error()
	}
	t.Ring.Push(e)
}
