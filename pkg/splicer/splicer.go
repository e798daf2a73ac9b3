// Package splicer implements the parallel multi-source striped download
// (§4.10): given a content digest, it discovers responding peers, opens one
// striped data request per source, and reroutes stripes whose source fails
// or falls behind.
package splicer

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
	"github.com/teapotnet/teapotnet/pkg/stripedfile"
)

// Request parameter names for a stripe's data request, per §4.10 step 2.
const (
	paramBlockSize    = "block-size"
	paramStripesCount = "stripes-count"
	paramStripe       = "stripe"
	paramBlock        = "block"
	paramOffset       = "offset"
)

// TickInterval is how often a running Splicer re-examines stripe progress.
// The specification bounds this at 30s; a shorter interval only makes
// rerouting more responsive, it never changes the selection policy.
const TickInterval = 2 * time.Second

// DiscoverTimeout bounds how long the initial and any re-discovery request
// waits for responses before giving up on finding more sources.
const DiscoverTimeout = 10 * time.Second

// RequestSubmitter is the subset of corenet.Core a Splicer depends on:
// submitting a request to its addressed peer(s) and cancelling one still
// in flight. corenet.Core satisfies this directly.
type RequestSubmitter interface {
	SubmitRequest(req *request.Request) uint64
	CancelRequest(req *request.Request)
}

type stripeState struct {
	index  int
	source identifier.Identifier
	view   *stripedfile.StripedFile
	req    *request.Request
}

// Splicer drives one download in progress. Construct with New and run its
// maintenance loop with Run, which returns once every stripe has finished
// without error.
type Splicer struct {
	core       RequestSubmitter
	digest     identifier.Identifier
	blockSize  int64
	firstBlock int64

	file *os.File

	mu      sync.Mutex
	stripes []*stripeState
	used    map[identifier.Identifier]bool
}

// New discovers sources for digest by broadcasting a no-data request named
// after its text form, opens outPath for writing, and starts one striped
// request per responding peer. N, the stripe count, is the number of
// unique peers that answered.
func New(core RequestSubmitter, digest identifier.Identifier, outPath string, blockSize, firstBlock int64) (*Splicer, error) {
	sources, err := discoverSources(core, digest, nil)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("splicer: no sources found for %s", digest.String())
	}

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("splicer: open %s: %w", outPath, err)
	}

	s := &Splicer{
		core:       core,
		digest:     digest,
		blockSize:  blockSize,
		firstBlock: firstBlock,
		file:       f,
		used:       make(map[identifier.Identifier]bool),
	}

	n := int64(len(sources))
	for i, src := range sources {
		view, err := stripedfile.Open(f, blockSize, n, int64(i))
		if err != nil {
			f.Close()
			return nil, err
		}
		view.SeekWrite(firstBlock, 0)
		st := &stripeState{index: i, source: src, view: view}
		st.req = s.submitStripeRequest(st, firstBlock, 0, n)
		s.stripes = append(s.stripes, st)
		s.used[src] = true
	}
	return s, nil
}

func discoverSources(core RequestSubmitter, digest identifier.Identifier, exclude map[identifier.Identifier]bool) ([]identifier.Identifier, error) {
	req := request.New(digest.String(), false, nil, identifier.Identifier{})
	core.SubmitRequest(req)
	req.Wait(DiscoverTimeout)

	seen := make(map[identifier.Identifier]bool)
	var out []identifier.Identifier
	for _, resp := range req.Responses() {
		if isErrorStatus(resp.Status) || seen[resp.Peering] || exclude[resp.Peering] {
			continue
		}
		seen[resp.Peering] = true
		out = append(out, resp.Peering)
	}
	return out, nil
}

func (s *Splicer) submitStripeRequest(st *stripeState, block, offset, stripesCount int64) *request.Request {
	parameters := map[string]string{
		paramBlockSize:    strconv.FormatInt(s.blockSize, 10),
		paramStripesCount: strconv.FormatInt(stripesCount, 10),
		paramStripe:       strconv.Itoa(st.index),
		paramBlock:        strconv.FormatInt(block, 10),
		paramOffset:       strconv.FormatInt(offset, 10),
	}
	req := request.New(s.digest.String(), true, parameters, st.source)
	req.ContentSink = st.view
	s.core.SubmitRequest(req)
	return req
}

func isErrorStatus(status proto.Status) bool {
	switch status {
	case proto.StatusFailed, proto.StatusNotFound, proto.StatusInterrupted, proto.StatusReadFailed:
		return true
	default:
		return false
	}
}

func latestResponse(req *request.Request) *request.Response {
	responses := req.Responses()
	if len(responses) == 0 {
		return nil
	}
	return responses[len(responses)-1]
}

func (s *Splicer) logger() *log.Entry {
	return log.WithField("component", "splicer").WithField("digest", s.digest.String())
}

// Run executes the maintenance loop (§4.10 step 3) until every stripe
// finishes without error, stopCh is closed, or an unrecoverable condition
// (no sources left and rediscovery empty) occurs.
func (s *Splicer) Run(stopCh <-chan struct{}) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		if done, err := s.checkFinished(); done {
			return err
		}
		if err := s.tick(); err != nil {
			return err
		}
		select {
		case <-stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Splicer) tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.stripes {
		resp := latestResponse(st.req)
		if resp != nil && isErrorStatus(resp.Status) {
			if err := s.replaceSourceLocked(st); err != nil {
				return err
			}
		}
	}
	s.applyFastPreemptionLocked()
	return nil
}

// replaceSourceLocked implements the §4.10 step 3 selection policy: prefer
// the source of the fastest other stripe, falling back to a fresh
// discovery round when every other stripe already uses the failing source.
func (s *Splicer) replaceSourceLocked(failing *stripeState) error {
	var fastest *stripeState
	for _, st := range s.stripes {
		if st == failing || st.source == failing.source {
			continue
		}
		if fastest == nil || st.view.WriteCursor().Block > fastest.view.WriteCursor().Block {
			fastest = st
		}
	}

	var newSource identifier.Identifier
	if fastest != nil {
		newSource = fastest.source
	} else {
		sources, err := discoverSources(s.core, s.digest, s.used)
		if err != nil || len(sources) == 0 {
			return fmt.Errorf("splicer: stripe %d: source %s failed and no fresh source found", failing.index, failing.source.String())
		}
		newSource = sources[rand.Intn(len(sources))]
	}

	s.reassignLocked(failing, newSource)
	return nil
}

// applyFastPreemptionLocked reassigns the slowest stripe to the fastest
// stripe's source once it has fallen at least 2 blocks plus double behind,
// per §4.10 step 3's fast-preemption rule.
func (s *Splicer) applyFastPreemptionLocked() {
	if len(s.stripes) < 2 {
		return
	}
	fastest, slowest := s.stripes[0], s.stripes[0]
	for _, st := range s.stripes[1:] {
		if st.view.WriteCursor().Block > fastest.view.WriteCursor().Block {
			fastest = st
		}
		if st.view.WriteCursor().Block < slowest.view.WriteCursor().Block {
			slowest = st
		}
	}
	if fastest == slowest || fastest.source == slowest.source {
		return
	}
	if fastest.view.WriteCursor().Block >= 2*slowest.view.WriteCursor().Block+2 {
		s.logger().WithField("stripe", slowest.index).Info("fast preemption: reassigning to faster source")
		s.reassignLocked(slowest, fastest.source)
	}
}

func (s *Splicer) reassignLocked(st *stripeState, newSource identifier.Identifier) {
	s.core.CancelRequest(st.req)
	cursor := st.view.WriteCursor()
	st.source = newSource
	s.used[newSource] = true
	st.req = s.submitStripeRequest(st, cursor.Block, cursor.Offset, int64(len(s.stripes)))
}

// checkFinished reports whether every stripe has a latest response that is
// error-free with its content pipe closed (§4.10 step 4).
func (s *Splicer) checkFinished() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.stripes {
		resp := latestResponse(st.req)
		if resp == nil {
			return false, nil
		}
		if isErrorStatus(resp.Status) {
			return false, nil
		}
		if !resp.TransferFinished() {
			return false, nil
		}
	}
	return true, nil
}

// FinishedBlocks returns the minimum write-cursor block across every
// stripe, a monotone progress floor (§4.10 step 5).
func (s *Splicer) FinishedBlocks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var min int64 = -1
	for _, st := range s.stripes {
		block := st.view.WriteCursor().Block
		if min == -1 || block < min {
			min = block
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// Close releases the backing file. Callers should stop Run first.
func (s *Splicer) Close() error {
	return s.file.Close()
}
