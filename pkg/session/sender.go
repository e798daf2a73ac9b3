package session

import (
	"container/list"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
)

// pendingResponse is one Response queued for transmission by Respond.
// channel is allocated lazily, only once the sender actually announces it
// (and only if content is non-nil), per §4.8 step 2.
type pendingResponse struct {
	reqID      uint64
	status     proto.Status
	parameters map[string]string
	content    io.Reader

	announced bool
	channel   uint32
	done      bool
}

// transfer is one open outbound data channel being drained by the sender
// loop's round-robin step.
type transfer struct {
	reqID   uint64
	content io.Reader
}

// sender is the single-goroutine cooperative scheduler described in §4.8:
// it interleaves keep-alives, outbound messages, outbound request
// headers, outbound response headers, and data chunks across open
// channels with fair, preemptible progress.
type sender struct {
	sess *Session

	mu                sync.Mutex
	messagesQueue     *list.List // *request.Message
	requestsQueue     *list.List // *request.Request
	requestsToRespond []*pendingResponse
	transfers         map[uint32]*transfer
	cancelChannels    []uint32

	wake    chan struct{} // buffered 1: new work arrived
	stopped bool
	stopCh  chan struct{}
}

func newSender(s *Session) *sender {
	return &sender{
		sess:          s,
		messagesQueue: list.New(),
		requestsQueue: list.New(),
		transfers:     make(map[uint32]*transfer),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// start launches the scheduler goroutine. Called once, after the
// handshake authenticates the session.
func (snd *sender) start() {
	go snd.run()
}

func (snd *sender) stop() {
	snd.mu.Lock()
	if snd.stopped {
		snd.mu.Unlock()
		return
	}
	snd.stopped = true
	snd.mu.Unlock()
	close(snd.stopCh)
}

func (snd *sender) notify() {
	select {
	case snd.wake <- struct{}{}:
	default:
	}
}

func (snd *sender) enqueueMessage(msg *request.Message) {
	snd.mu.Lock()
	snd.messagesQueue.PushBack(msg)
	snd.mu.Unlock()
	snd.notify()
}

func (snd *sender) enqueueRequest(req *request.Request) {
	snd.mu.Lock()
	snd.requestsQueue.PushBack(req)
	snd.mu.Unlock()
	snd.notify()
}

func (snd *sender) enqueueResponse(reqID uint64, status proto.Status, parameters map[string]string, content io.Reader) {
	snd.mu.Lock()
	snd.requestsToRespond = append(snd.requestsToRespond, &pendingResponse{
		reqID:      reqID,
		status:     status,
		parameters: parameters,
		content:    content,
	})
	snd.mu.Unlock()
	snd.notify()
}

// enqueueCancel arranges for a C frame to be sent for channel, either
// because we received an unknown-channel D (§7) or because a Request was
// cancelled locally (§4.7).
func (snd *sender) enqueueCancel(channel uint32) {
	snd.mu.Lock()
	snd.cancelChannels = append(snd.cancelChannels, channel)
	snd.mu.Unlock()
	snd.notify()
}

// cancelOutgoingChannel stops this session from sending further D frames
// for channel, in response to a peer's C frame.
func (snd *sender) cancelOutgoingChannel(channel uint32) {
	snd.mu.Lock()
	delete(snd.transfers, channel)
	snd.mu.Unlock()
}

func (snd *sender) hasWork() bool {
	snd.mu.Lock()
	defer snd.mu.Unlock()
	return snd.messagesQueue.Len() > 0 ||
		snd.requestsQueue.Len() > 0 ||
		len(snd.requestsToRespond) > 0 ||
		len(snd.transfers) > 0 ||
		len(snd.cancelChannels) > 0
}

// run is the priority loop of §4.8.
func (snd *sender) run() {
	for {
		for !snd.hasWork() {
			select {
			case <-snd.stopCh:
				return
			case <-snd.wake:
			case <-time.After(snd.sess.cfg.ReadTimeout / 2):
				if err := snd.sendKeepAlive(); err != nil {
					snd.sess.Close(err)
					return
				}
			}
		}
		select {
		case <-snd.stopCh:
			return
		default:
		}

		if err := snd.runOnce(); err != nil {
			snd.sess.Close(err)
			return
		}
	}
}

func (snd *sender) sendKeepAlive() error {
	return snd.sess.writer.WriteCommand(proto.VerbKeepAlive, strconv.FormatUint(uint64(rand.Uint32()), 10), nil)
}

// runOnce executes one pass of the §4.8 priority steps.
func (snd *sender) runOnce() error {
	if err := snd.flushCancels(); err != nil {
		return err
	}
	if err := snd.announceResponses(); err != nil {
		return err
	}
	if sent, err := snd.sendOneMessage(); err != nil {
		return err
	} else if sent {
		return nil
	}
	if sent, err := snd.sendOneRequestHeader(); err != nil {
		return err
	} else if sent {
		return nil
	}
	return snd.driveTransfers()
}

func (snd *sender) flushCancels() error {
	snd.mu.Lock()
	channels := snd.cancelChannels
	snd.cancelChannels = nil
	snd.mu.Unlock()
	for _, ch := range channels {
		if err := snd.sess.writer.WriteCommand(proto.VerbCancel, strconv.FormatUint(uint64(ch), 10), nil); err != nil {
			return err
		}
	}
	return nil
}

// announceResponses sends R for every not-yet-announced pendingResponse:
// allocates a channel only if it carries content, and registers it in
// transfers so step 5 can drain it.
func (snd *sender) announceResponses() error {
	snd.mu.Lock()
	var toAnnounce []*pendingResponse
	for _, pr := range snd.requestsToRespond {
		if !pr.announced {
			toAnnounce = append(toAnnounce, pr)
		}
	}
	snd.mu.Unlock()

	for _, pr := range toAnnounce {
		snd.mu.Lock()
		if pr.content != nil {
			pr.channel = snd.sess.allocChannel()
		}
		pr.announced = true
		if pr.content != nil {
			snd.transfers[pr.channel] = &transfer{reqID: pr.reqID, content: pr.content}
		} else {
			pr.done = true
		}
		snd.mu.Unlock()

		args := fmt.Sprintf("%d %d %d", pr.reqID, int(pr.status), pr.channel)
		if err := snd.sess.writer.WriteCommand(proto.VerbResponse, args, pr.parameters); err != nil {
			return err
		}
	}

	snd.gcRequestsToRespond()
	return nil
}

func (snd *sender) gcRequestsToRespond() {
	snd.mu.Lock()
	defer snd.mu.Unlock()
	kept := snd.requestsToRespond[:0]
	for _, pr := range snd.requestsToRespond {
		if !pr.done {
			kept = append(kept, pr)
		}
	}
	snd.requestsToRespond = kept
}

func (snd *sender) sendOneMessage() (bool, error) {
	snd.mu.Lock()
	elem := snd.messagesQueue.Front()
	if elem == nil {
		snd.mu.Unlock()
		return false, nil
	}
	snd.messagesQueue.Remove(elem)
	snd.mu.Unlock()

	msg := elem.Value.(*request.Message)
	headers := make(map[string]string, len(msg.Parameters)+2)
	for k, v := range msg.Parameters {
		headers[k] = v
	}
	if !msg.Receiver.IsNull() {
		headers[headerReceiver] = msg.Receiver.String()
	}
	headers[headerLength] = strconv.Itoa(len(msg.Content))

	if err := snd.sess.writer.WriteCommand(proto.VerbMessage, "", headers); err != nil {
		return true, err
	}
	return true, snd.sess.writer.WriteBody(msg.Content)
}

func (snd *sender) sendOneRequestHeader() (bool, error) {
	snd.mu.Lock()
	elem := snd.requestsQueue.Front()
	if elem == nil {
		snd.mu.Unlock()
		return false, nil
	}
	snd.requestsQueue.Remove(elem)
	snd.mu.Unlock()

	req := elem.Value.(*request.Request)
	verb := proto.VerbRequest
	if req.IsData {
		verb = proto.VerbRequestG
	}
	args := fmt.Sprintf("%d %s", req.ID, req.Target)
	return true, snd.sess.writer.WriteCommand(verb, args, req.Parameters)
}

// driveTransfers performs one round-robin pass across open data channels:
// read up to ChunkSize from each, send the resulting D (or E on error),
// and break early to let higher-priority queues run if any filled up
// meanwhile.
func (snd *sender) driveTransfers() error {
	snd.mu.Lock()
	channels := make([]uint32, 0, len(snd.transfers))
	for ch := range snd.transfers {
		channels = append(channels, ch)
	}
	snd.mu.Unlock()

	for _, ch := range channels {
		snd.mu.Lock()
		t, ok := snd.transfers[ch]
		snd.mu.Unlock()
		if !ok {
			continue
		}

		buf := make([]byte, ChunkSize)
		n, err := t.content.Read(buf)
		switch {
		case err != nil && err != io.EOF:
			if werr := snd.sess.writer.WriteCommand(proto.VerbError, fmt.Sprintf("%d %d", ch, int(proto.StatusReadFailed)), nil); werr != nil {
				return werr
			}
			snd.mu.Lock()
			delete(snd.transfers, ch)
			snd.mu.Unlock()
			snd.markResponseDone(ch)
		case n == 0:
			if werr := snd.sess.writer.WriteCommand(proto.VerbData, strconv.FormatUint(uint64(ch), 10), map[string]string{headerLength: "0"}); werr != nil {
				return werr
			}
			snd.mu.Lock()
			delete(snd.transfers, ch)
			snd.mu.Unlock()
			snd.markResponseDone(ch)
		default:
			headers := map[string]string{headerLength: strconv.Itoa(n)}
			if werr := snd.sess.writer.WriteCommand(proto.VerbData, strconv.FormatUint(uint64(ch), 10), headers); werr != nil {
				return werr
			}
			if werr := snd.sess.writer.WriteBody(buf[:n]); werr != nil {
				return werr
			}
		}

		snd.mu.Lock()
		pending := snd.hasHigherPriorityWorkLocked()
		snd.mu.Unlock()
		if pending {
			break
		}
	}
	snd.gcRequestsToRespond()
	return nil
}

func (snd *sender) hasHigherPriorityWorkLocked() bool {
	for _, pr := range snd.requestsToRespond {
		if !pr.announced {
			return true
		}
	}
	return snd.messagesQueue.Len() > 0 || snd.requestsQueue.Len() > 0 || len(snd.cancelChannels) > 0
}

func (snd *sender) markResponseDone(channel uint32) {
	snd.mu.Lock()
	defer snd.mu.Unlock()
	for _, pr := range snd.requestsToRespond {
		if pr.announced && pr.channel == channel {
			pr.done = true
		}
	}
}
