package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
	"github.com/gosqlitelog/ulogsqlite/reader"
	"github.com/gosqlitelog/ulogsqlite/writer"
)

// CreateCmd formats a brand-new database file and appends one row per CSV
// argument, mirroring the original driver's "-c <db> <page_size> <col_count>
// <csv_1> ... <csv_n>".
type CreateCmd struct {
	DB        string   `arg:"" help:"Path to the database file to create."`
	PageSize  int      `arg:"" help:"Page size: one of 512,1024,2048,4096,8192,16384,32768,65536."`
	ColCount  int      `arg:"" help:"Number of columns in the table."`
	TableName string   `help:"Table name stored in sqlite_master." default:"t1"`
	Rows      []string `arg:"" optional:"" help:"CSV rows (no comma in data), one per argument."`
}

func (c *CreateCmd) Run(rc *runCtx) error {
	f, err := os.OpenFile(c.DB, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.DB, err)
	}
	defer f.Close()

	ctx := context.Background()
	w := writer.New(ioctx.NewFileIO(f),
		writer.WithPageSize(c.PageSize),
		writer.WithColCount(c.ColCount),
		writer.WithTableName(c.TableName),
		writer.WithLogger(rc.log.Logger),
	)
	if err := w.WriteInit(ctx); err != nil {
		return err
	}
	return appendRows(ctx, w, c.Rows)
}

// AppendCmd resumes a finalized database and appends further rows,
// mirroring "-a <db> <page_size> <col_count> <csv_1> ... <csv_n>". page_size
// and col_count are accepted for symmetry with the original driver but are
// cross-checked against, not overridden by, what InitForAppend recovers from
// the file itself.
type AppendCmd struct {
	DB       string   `arg:"" help:"Path to an existing database file."`
	PageSize int      `arg:"" help:"Expected page size; validated against the file."`
	ColCount int      `arg:"" help:"Expected column count; validated against the file."`
	Rows     []string `arg:"" optional:"" help:"CSV rows (no comma in data), one per argument."`
}

func (c *AppendCmd) Run(rc *runCtx) error {
	f, err := os.OpenFile(c.DB, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.DB, err)
	}
	defer f.Close()

	hdrBuf := make([]byte, schema.HeaderLen)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		return fmt.Errorf("read header of %s: %w", c.DB, err)
	}
	hdr, err := schema.ReadHeader(hdrBuf)
	if err != nil {
		return fmt.Errorf("read header of %s: %w", c.DB, err)
	}
	if hdr.PageSize != c.PageSize {
		return fmt.Errorf("%s has page size %d, expected %d", c.DB, hdr.PageSize, c.PageSize)
	}

	ctx := context.Background()
	w := writer.New(ioctx.NewFileIO(f),
		writer.WithColCount(c.ColCount),
		writer.WithLogger(rc.log.Logger),
	)
	if err := w.InitForAppend(ctx); err != nil {
		return err
	}
	return appendRows(ctx, w, c.Rows)
}

func appendRows(ctx context.Context, w *writer.Writer, rows []string) error {
	for _, row := range rows {
		if err := w.AppendRowWithValues(ctx, parseRow(row)); err != nil {
			return err
		}
	}
	return w.Finalize(ctx)
}

// GetCmd looks up a single row by row-id, mirroring "-r <db> <rowid>".
type GetCmd struct {
	DB    string `arg:"" help:"Path to a finalized database file."`
	RowID int64  `arg:"" help:"Row-id to look up."`
}

func (c *GetCmd) Run(rc *runCtx) error {
	f, err := os.OpenFile(c.DB, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.DB, err)
	}
	defer f.Close()

	ctx := context.Background()
	r := reader.New(ioctx.NewFileIO(f), reader.WithLogger(rc.log.Logger))
	if err := r.ReadInit(ctx); err != nil {
		return err
	}
	if err := r.SrchRowByID(ctx, c.RowID); err != nil {
		fmt.Println("Not Found")
		return nil
	}
	return printCurrentRow(r)
}

// SearchCmd binary-searches a finalized database by a column's value,
// mirroring "-b <db> <col_idx> <value>". col_idx == -1 searches by row-id,
// matching the original driver's convention.
type SearchCmd struct {
	DB     string `arg:"" help:"Path to a finalized database file."`
	ColIdx int    `arg:"" help:"Column index to search, or -1 to search by row-id."`
	Value  string `arg:"" help:"Value to search for."`
}

func (c *SearchCmd) Run(rc *runCtx) error {
	f, err := os.OpenFile(c.DB, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.DB, err)
	}
	defer f.Close()

	ctx := context.Background()
	r := reader.New(ioctx.NewFileIO(f), reader.WithLogger(rc.log.Logger))
	if err := r.ReadInit(ctx); err != nil {
		return err
	}

	target := inferValue(c.Value)
	isRowID := c.ColIdx == -1
	if err := r.BinSrchRowByVal(ctx, c.ColIdx, target, isRowID); err != nil {
		fmt.Println("Not Found")
		return nil
	}
	return printCurrentRow(r)
}

func printCurrentRow(r *reader.Reader) error {
	n, err := r.CurRowColCount()
	if err != nil {
		return err
	}
	values := make([]record.Value, n)
	for i := 0; i < n; i++ {
		v, err := r.ReadColVal(i)
		if err != nil {
			return err
		}
		values[i] = v
	}
	fmt.Println(displayRow(values))
	return nil
}
