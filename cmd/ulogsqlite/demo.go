package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
	"github.com/gosqlitelog/ulogsqlite/writer"
)

// DemoCmd runs the two canned scenarios the original driver's "-n" flag
// ran: a 512-byte-page two-row hello-world file, and a larger file built to
// exercise a multilevel interior tree. Both are written to the current
// directory, same as the original.
type DemoCmd struct {
	MultilevelRows int `help:"Row count for the multilevel demo (enough to force a 3-level tree at 512-byte pages)." default:"4000"`
}

func (c *DemoCmd) Run(rc *runCtx) error {
	if err := helloWorldDemo(rc, "hello.db"); err != nil {
		return fmt.Errorf("hello-world demo: %w", err)
	}
	fmt.Println("wrote hello.db")

	if err := multilevelDemo(rc, "ml.db", c.MultilevelRows); err != nil {
		return fmt.Errorf("multilevel demo: %w", err)
	}
	fmt.Printf("wrote ml.db (%d rows)\n", c.MultilevelRows)
	return nil
}

// helloWorldDemo reproduces scenario 1 from the spec: 512-byte pages, 5
// text columns, two rows.
func helloWorldDemo(rc *runCtx, path string) error {
	os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	w := writer.New(ioctx.NewFileIO(f),
		writer.WithPageSize(512),
		writer.WithColCount(5),
		writer.WithLogger(rc.log.Logger),
	)
	if err := w.WriteInit(ctx); err != nil {
		return err
	}
	rows := [][]string{
		{"Hello", "World", "How", "Are", "You"},
		{"I", "am", "fine", "thank", "you"},
	}
	for _, row := range rows {
		values := make([]record.Value, len(row))
		for i, s := range row {
			values[i] = record.Value{Type: record.Text, Data: []byte(s)}
		}
		if err := w.AppendRowWithValues(ctx, values); err != nil {
			return err
		}
	}
	return w.Finalize(ctx)
}

// multilevelDemo reproduces the shape of scenario 3: 512-byte pages and
// enough synthetic rows (text/int/real/real/text) to force a multi-level
// interior tree, without paying the original's full million-row cost.
func multilevelDemo(rc *runCtx, path string, rowCount int) error {
	os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	w := writer.New(ioctx.NewFileIO(f),
		writer.WithPageSize(512),
		writer.WithColCount(5),
		writer.WithLogger(rc.log.Logger),
	)
	if err := w.WriteInit(ctx); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < rowCount; i++ {
		ts := time.Unix(int64(i), 0).UTC().Format("2006-01-02 15:04:05")
		ival := int32(i - rowCount/2)
		d1 := float64(i) / 2
		d2 := rng.Float64() * 1000

		ib := make([]byte, 4)
		codec.WriteU32(ib, uint32(ival))
		d1b := make([]byte, 8)
		codec.WriteU64(d1b, codec.Float64ToBits(d1))
		d2b := make([]byte, 8)
		codec.WriteU64(d2b, codec.Float64ToBits(d2))

		values := []record.Value{
			{Type: record.Text, Data: []byte(ts)},
			{Type: record.Int, Data: ib},
			{Type: record.Real, Data: d1b},
			{Type: record.Real, Data: d2b},
			{Type: record.Text, Data: []byte(randomWord(rng))},
		}
		if err := w.AppendRowWithValues(ctx, values); err != nil {
			return err
		}
	}
	return w.Finalize(ctx)
}

func randomWord(rng *rand.Rand) string {
	n := rng.Intn(10)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(26))
	}
	return string(b)
}
