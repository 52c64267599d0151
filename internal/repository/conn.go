package repository

import (
	"errors"
	"sync/atomic"

	"gorm.io/gorm"
)

var ErrDBNotReady = errors.New("database not initialized")

// conn holds a *gorm.DB that may be injected after the server has started.
type conn struct {
	p atomic.Pointer[gorm.DB]
}

func newConn(db *gorm.DB) *conn {
	c := &conn{}
	c.p.Store(db)
	return c
}

func (c *conn) get() (*gorm.DB, error) {
	db := c.p.Load()
	if db == nil {
		return nil, ErrDBNotReady
	}
	return db, nil
}

func (c *conn) SetDB(db *gorm.DB) {
	c.p.Store(db)
}
