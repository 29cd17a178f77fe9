package writer

import (
	"github.com/sirupsen/logrus"
)

// Config holds the parameters write_init needs to lay out a fresh database:
// page geometry, the table's name and column count, an optional page-count
// cap, and where structured logs go.
type Config struct {
	PageSize      int
	ReservedBytes int
	MaxPagesExp   int // 0 means unbounded
	TableName     string
	ColCount      int
	Logger        *logrus.Logger
}

// Option is a functional option for Config, following the same shape as the
// rest of this codebase's configuration surface.
type Option func(*Config)

// WithPageSize sets the page size; it must be one of the eight SQLite legal
// sizes or write_init reports INVALID_PAGE_SIZE.
func WithPageSize(size int) Option {
	return func(c *Config) { c.PageSize = size }
}

// WithReservedBytes sets the per-page reserved byte count carved off the
// tail of every page.
func WithReservedBytes(n int) Option {
	return func(c *Config) { c.ReservedBytes = n }
}

// WithMaxPagesExp caps the file at 2^n pages; 0 (the default) means no cap.
func WithMaxPagesExp(n int) Option {
	return func(c *Config) { c.MaxPagesExp = n }
}

// WithTableName sets the single table name written into sqlite_master.
func WithTableName(name string) Option {
	return func(c *Config) { c.TableName = name }
}

// WithColCount sets the number of columns the table has. init_for_append
// takes the count from the resumed file's own schema and fails if a non-zero
// value set here disagrees with it; write_init requires it to be set.
func WithColCount(n int) Option {
	return func(c *Config) { c.ColCount = n }
}

// WithLogger overrides the structured logger; the default logs to
// logrus's standard instance.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		PageSize:      4096,
		ReservedBytes: 0,
		MaxPagesExp:   0,
		TableName:     "t1",
		ColCount:      0,
		Logger:        logrus.StandardLogger(),
	}
}
