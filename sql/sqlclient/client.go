// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlclient

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
)

// Client provides the common functionalities for working with the installer
// from different applications (e.g. CLI and tests). Note, the Client is
// dialect specific and should be instantiated using a call to Open.
type Client struct {
	// Name used when creating the client.
	Name string

	// DB used for creating the client.
	DB *sql.DB
	// URL holds an enriched url.URL.
	URL *URL

	// A migration driver for the attached dialect.
	migrate.Driver
}

// URL extends the standard url.URL with additional
// connection information attached by the Opener (if any).
type URL struct {
	*url.URL

	// The DSN used for opening the connection.
	DSN string
}

// BeginTx starts a transaction on the underlying database.
// It allows using the Client as a migrate.Conn.
func (c *Client) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.DB.BeginTx(ctx, opts)
}

// Close closes the underlying database connection and the migration
// driver in case it implements the io.Closer interface.
func (c *Client) Close() (err error) {
	if c, ok := c.Driver.(io.Closer); ok {
		err = c.Close()
	}
	if cerr := c.DB.Close(); cerr != nil {
		if err != nil {
			cerr = fmt.Errorf("%w: %v", err, cerr)
		}
		err = cerr
	}
	return err
}

var _ migrate.Conn = (*Client)(nil)

type (
	// Opener opens a migration driver by the given URL.
	Opener interface {
		Open(ctx context.Context, u *url.URL) (*Client, error)
	}

	// OpenerFunc allows using a function as an Opener.
	OpenerFunc func(context.Context, *url.URL) (*Client, error)

	namedOpener struct {
		Opener
		name string
	}
)

// Open calls f(ctx, u).
func (f OpenerFunc) Open(ctx context.Context, u *url.URL) (*Client, error) {
	return f(ctx, u)
}

var drivers sync.Map

// Open opens a client by its provided url string.
func Open(ctx context.Context, s string) (*Client, error) {
	u, err := ParseURL(s)
	if err != nil {
		return nil, err
	}
	v, ok := drivers.Load(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("sql/sqlclient: no opener was register with name %q", u.Scheme)
	}
	c, err := v.(namedOpener).Open(ctx, u)
	if err != nil {
		return nil, err
	}
	if c.Name == "" {
		c.Name = v.(namedOpener).name
	}
	if c.URL == nil {
		c.URL = &URL{URL: u}
	}
	return c, nil
}

// ParseURL parses a connection URL. Only the URL scheme is validated here,
// the rest of the URL is validated by the driver Opener.
func ParseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("sql/sqlclient: parse open url: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("sql/sqlclient: missing driver scheme in url %q", u.Redacted())
	}
	return u, nil
}

type (
	registerOptions struct {
		flavours []string
	}
	// RegisterOption allows configuring the Opener
	// registration using functional options.
	RegisterOption func(*registerOptions)
)

// RegisterFlavours allows registering additional flavours
// (i.e. names), accepted by the installer to open clients.
func RegisterFlavours(flavours ...string) RegisterOption {
	return func(opts *registerOptions) {
		opts.flavours = flavours
	}
}

// DriverOpener is a helper Opener creator for sharing between all drivers.
// The database/sql driver name is the one given to Register, unless the
// driver parameter is set.
func DriverOpener(open func(schema.ExecQuerier) (migrate.Driver, error), dsn func(*url.URL) string, driver ...string) Opener {
	return OpenerFunc(func(ctx context.Context, u *url.URL) (*Client, error) {
		v, ok := drivers.Load(u.Scheme)
		if !ok {
			return nil, fmt.Errorf("sql/sqlclient: unexpected missing opener %q", u.Scheme)
		}
		name := v.(namedOpener).name
		if len(driver) > 0 {
			name = driver[0]
		}
		ds := dsn(u)
		db, err := sql.Open(name, ds)
		if err != nil {
			return nil, err
		}
		drv, err := open(db)
		if err != nil {
			if cerr := db.Close(); cerr != nil {
				err = fmt.Errorf("%w: %v", err, cerr)
			}
			return nil, err
		}
		return &Client{
			Name:   v.(namedOpener).name,
			DB:     db,
			URL:    &URL{URL: u, DSN: ds},
			Driver: drv,
		}, nil
	})
}

// Register registers a client Opener (i.e. creator) with the given name.
func Register(name string, opener Opener, opts ...RegisterOption) {
	if opener == nil {
		panic("sql/sqlclient: Register opener is nil")
	}
	opt := &registerOptions{}
	for i := range opts {
		opts[i](opt)
	}
	for _, f := range append(opt.flavours, name) {
		if _, ok := drivers.Load(f); ok {
			panic("sql/sqlclient: Register called twice for " + f)
		}
		drivers.Store(f, namedOpener{
			name:   name,
			Opener: opener,
		})
	}
}
