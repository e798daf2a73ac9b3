package session

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
)

const (
	headerReceiver = "receiver"
	headerLength   = "length"
)

func paramsExcluding(headers map[string]string, exclude ...string) map[string]string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if !skip[k] {
			out[k] = v
		}
	}
	return out
}

func (s *Session) handleMessage(cmd proto.Command) error {
	length := cmd.Length()
	if length > request.MaxMessageSize {
		return fmt.Errorf("session: message of %d bytes exceeds limit", length)
	}
	body, err := s.reader.ReadBody(length)
	if err != nil {
		return err
	}

	var receiver identifier.Identifier
	if text, ok := cmd.Header(headerReceiver); ok && text != "" {
		receiver, err = identifier.Parse(text)
		if err != nil {
			return fmt.Errorf("session: bad message receiver: %w", err)
		}
	}

	msg := &request.Message{
		Time:       time.Now(),
		Receiver:   receiver,
		Parameters: paramsExcluding(cmd.Headers, headerReceiver, headerLength),
		Content:    body,
	}
	s.delegate.OnMessage(s, msg)
	return nil
}

func splitArgs(args string, n int) ([]string, error) {
	parts := strings.SplitN(args, " ", n)
	if len(parts) != n {
		return nil, fmt.Errorf("session: expected %d argument(s), got %q", n, args)
	}
	return parts, nil
}

func (s *Session) handleRequest(cmd proto.Command) error {
	parts, err := splitArgs(cmd.Args, 2)
	if err != nil {
		return err
	}
	reqID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("session: bad request id: %w", err)
	}
	target := parts[1]
	isData := cmd.Verb == proto.VerbRequestG

	s.mu.Lock()
	s.inboundRequests[reqID] = &inboundRequest{target: target, isData: isData}
	s.mu.Unlock()

	s.delegate.OnRequest(s, reqID, target, isData, cmd.Headers)
	return nil
}

func (s *Session) handleResponseHeader(cmd proto.Command) error {
	parts, err := splitArgs(cmd.Args, 3)
	if err != nil {
		return err
	}
	reqID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("session: bad response request id: %w", err)
	}
	statusInt, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("session: bad response status: %w", err)
	}
	channel, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return fmt.Errorf("session: bad response channel: %w", err)
	}

	s.mu.RLock()
	req, ok := s.outboundRequests[reqID]
	s.mu.RUnlock()
	if !ok {
		// Response for a request we no longer track (already cancelled or
		// finished): nothing to deliver it to.
		return nil
	}

	resp := req.AddResponse(s.RemotePeering(), proto.Status(statusInt), cmd.Headers, uint32(channel))
	if channel != 0 {
		s.mu.Lock()
		s.inboundResponseSinks[uint32(channel)] = resp
		s.mu.Unlock()

		// A request with a ContentSink (the splicer's striped file view is
		// the only current producer of these) wants this response's data
		// copied straight through rather than read by the caller.
		if req.ContentSink != nil {
			go io.Copy(req.ContentSink, resp.Content())
		}
	}
	return nil
}

func (s *Session) handleData(cmd proto.Command) error {
	channel64, err := strconv.ParseUint(cmd.Args, 10, 32)
	if err != nil {
		return fmt.Errorf("session: bad data channel: %w", err)
	}
	channel := uint32(channel64)
	length := cmd.Length()
	body, err := s.reader.ReadBody(length)
	if err != nil {
		return err
	}

	s.mu.Lock()
	resp, ok := s.inboundResponseSinks[channel]
	if ok && length == 0 {
		delete(s.inboundResponseSinks, channel)
	}
	s.mu.Unlock()

	if !ok {
		// Unknown channel: discard (already consumed above) and tell the
		// peer to stop sending, per §7.
		s.sender.enqueueCancel(channel)
		return nil
	}
	if length == 0 {
		resp.Close()
		return nil
	}
	return resp.WriteChunk(body)
}

func (s *Session) handleError(cmd proto.Command) error {
	parts, err := splitArgs(cmd.Args, 2)
	if err != nil {
		return err
	}
	channel64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return fmt.Errorf("session: bad error channel: %w", err)
	}
	statusInt, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("session: bad error status: %w", err)
	}
	channel := uint32(channel64)

	s.mu.Lock()
	resp, ok := s.inboundResponseSinks[channel]
	delete(s.inboundResponseSinks, channel)
	s.mu.Unlock()
	if ok {
		resp.CloseWithError(proto.Status(statusInt), fmt.Errorf("session: peer reported %s", proto.Status(statusInt)))
	}
	return nil
}

func (s *Session) handleCancel(cmd proto.Command) error {
	channel64, err := strconv.ParseUint(cmd.Args, 10, 32)
	if err != nil {
		return fmt.Errorf("session: bad cancel channel: %w", err)
	}
	s.sender.cancelOutgoingChannel(uint32(channel64))
	return nil
}
