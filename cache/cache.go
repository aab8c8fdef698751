// Package cache persists the peripherals a consumer has connected to.
// A remembered peer lets the session reconnect without re-fetching the
// service directory, which saves considerable time and power.
package cache

import (
	"io/ioutil"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
)

// Peer is one remembered peripheral.
type Peer struct {
	Addr     string    `json:"addr"`
	Name     string    `json:"name,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Peers is a file-backed known-peer store.
type Peers struct {
	filename string
	lock     sync.RWMutex
}

// New creates a peer cache stored at filename.
func New(filename string) *Peers {
	return &Peers{filename: filename}
}

// Known reports whether a was remembered before.
func (p *Peers) Known(a eksr.Addr) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	cache, err := p.loadExisting()
	if err != nil {
		return false
	}
	_, ok := cache[a.String()]
	return ok
}

// Remember stores or refreshes the record of a.
func (p *Peers) Remember(a eksr.Addr, name string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	cache, err := p.loadExisting()
	if err != nil {
		return err
	}

	cache[a.String()] = Peer{
		Addr:     a.String(),
		Name:     name,
		LastSeen: time.Now(),
	}

	return p.storeCache(cache)
}

// Load returns the record of a.
func (p *Peers) Load(a eksr.Addr) (Peer, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	cache, err := p.loadExisting()
	if err != nil {
		return Peer{}, err
	}

	peer, ok := cache[a.String()]
	if !ok {
		return Peer{}, errors.Errorf("peer %s not found in cache", a.String())
	}
	return peer, nil
}

// Clear forgets every remembered peer.
func (p *Peers) Clear() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	err := os.Remove(p.filename)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *Peers) loadExisting() (map[string]Peer, error) {
	_, err := os.Stat(p.filename)
	if os.IsNotExist(err) {
		return map[string]Peer{}, nil
	}

	in, err := ioutil.ReadFile(p.filename)
	if err != nil {
		return nil, err
	}

	var cache map[string]Peer
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, err
	}

	return cache, nil
}

func (p *Peers) storeCache(cache map[string]Peer) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(p.filename, out, 0644)
}
