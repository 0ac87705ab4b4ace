package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/gqlws/subtransws"
	"github.com/gqlws/subtransws/internal/util"
	"github.com/gqlws/subtransws/wserr"
	"github.com/gqlws/subtransws/wsmessage"
	"github.com/gqlws/subtransws/wsutil"
	"github.com/jensneuse/abstractlogger"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"nhooyr.io/websocket"
)

// connection owns the protocol state of a single client: the
// init/acknowledged flags, the operation registry and the outbound
// write lock. All inbound dispatch happens on the goroutine running
// run; operations stream their results from their own goroutines.
type connection struct {
	server      *Server
	id          string
	conn        subtransws.Conn
	req         *http.Request
	ctx         context.Context
	exec        graphql.GraphExecutor
	logger      abstractlogger.Logger
	initTimeout time.Duration

	initReceived      bool
	initReceivedMutex sync.Mutex
	acknowledged      bool
	ops               registry
	wg                sync.WaitGroup
	writeMutex        sync.Mutex

	// done is closed when the read loop returns, before any operation is
	// cancelled. Background goroutines exit on it so teardown leaves
	// nothing running.
	done chan struct{}
}

// handle runs the connection to completion, then tears it down: the
// registry is drained, every operation is cancelled exactly once and
// awaited together with the keep-alive and watcher goroutines, and only
// then is the transport closed.
func (c *connection) handle() {
	err := c.run()

	close(c.done)

	for _, cancel := range c.ops.drain() {
		cancel()
	}
	c.wg.Wait()

	if closeFunc := c.server.CloseFunc; closeFunc != nil {
		closeFunc(c.ctx)
	}

	c.close(err)

	c.logger.Debug("wsserver.connection.handle(): connection closed",
		abstractlogger.String("connection_id", c.id),
	)
}

func (c *connection) run() error {
	initCtx, initCancel := context.WithTimeout(c.req.Context(), c.initTimeout)
	defer initCancel()

	c.wg.Add(1)
	go c.watchInitTimeout(initCtx)

	var keepAliveTicker *time.Ticker

	for {
		data, err := c.conn.Receive(c.req.Context())
		if err != nil {
			// Transport closed or failed. Teardown happens in handle.
			return nil
		}

		msg, err := wsmessage.Decode(data)
		if err != nil {
			c.logger.Error("wsserver.connection.run(): malformed message",
				abstractlogger.String("connection_id", c.id),
				abstractlogger.Error(err),
			)

			return c.protocolError("invalid message", err)
		}

		if keepAliveTicker != nil {
			keepAliveTicker.Reset(c.server.KeepAliveInterval)
		}

		if !c.acknowledged && msg.Type != wsmessage.ConnectionInitType {
			return c.protocolError("unauthorized", nil)
		}

		switch msg.Type {
		case wsmessage.ConnectionInitType:
			err := c.init(msg.Payload)
			if err != nil {
				return err
			}

			initCancel()
			c.acknowledged = true

			if c.server.KeepAliveInterval.Nanoseconds() > 0 {
				err = c.writeMessage(&wsmessage.Message{
					Type: wsmessage.KeepAliveType,
				}, nil)
				if err != nil {
					return err
				}

				keepAliveTicker = time.NewTicker(c.server.KeepAliveInterval)

				c.wg.Add(1)
				go c.keepAlive(keepAliveTicker)
			}
		case wsmessage.StartType:
			err = c.start(msg.Id, msg.Payload)
			if err != nil {
				return err
			}
		case wsmessage.StopType:
			c.stop(msg.Id)
		case wsmessage.ConnectionTerminateType:
			return nil
		default:
			// A server-to-client type arriving inbound.
			return c.protocolError("invalid message type", nil)
		}
	}
}

// protocolError sends a connection-level error to the client and
// returns the close error ending the connection.
func (c *connection) protocolError(reason string, err error) error {
	_ = c.writeMessage(&wsmessage.Message{
		Type: wsmessage.ConnectionErrorType,
	}, wsutil.ObjectPayload{
		"message": reason,
	})

	return wserr.CloseError{
		Err:    err,
		Code:   int(websocket.StatusPolicyViolation),
		Reason: reason,
	}
}

func (c *connection) init(payload json.RawMessage) error {
	c.initReceivedMutex.Lock()
	if c.initReceived {
		c.initReceivedMutex.Unlock()

		return c.protocolError("too many initialisation requests", nil)
	}
	c.initReceived = true
	c.initReceivedMutex.Unlock()

	var ackPayload wsutil.ObjectPayload

	initFunc := c.server.InitFunc
	if initFunc != nil {
		var initPayload wsutil.ObjectPayload

		err := wsmessage.DecodePayload(payload, &initPayload)
		if err != nil {
			return c.protocolError("invalid payload", err)
		}

		ctx, payload, err := initFunc(c.req, initPayload)
		if err != nil {
			c.logger.Debug("wsserver.connection.init(): connection rejected",
				abstractlogger.String("connection_id", c.id),
				abstractlogger.Error(err),
			)

			_ = c.writeMessage(&wsmessage.Message{
				Type: wsmessage.ConnectionErrorType,
			}, wsutil.ObjectPayload{
				"message": err.Error(),
			})

			var ce wserr.CloseError
			if errors.As(err, &ce) {
				return ce
			}

			return wserr.CloseError{
				Err:    err,
				Code:   int(websocket.StatusPolicyViolation),
				Reason: "forbidden",
			}
		}

		if ctx != nil && ctx != c.ctx {
			c.wg.Add(1)
			go c.watchAuthContext(ctx)

			c.ctx = ctx
		}

		ackPayload = payload
	}

	return c.writeMessage(&wsmessage.Message{
		Type: wsmessage.ConnectionAckType,
	}, ackPayload)
}

func (c *connection) start(id string, payload json.RawMessage) error {
	var params *graphql.RawParams

	ctx := graphql.StartOperationTrace(c.ctx)
	start := graphql.Now()

	err := wsmessage.DecodePayload(payload, &params, wsmessage.UseNumber)
	if err != nil || params == nil {
		return c.protocolError("invalid payload", err)
	}

	params.ReadTime = graphql.TraceTiming{
		Start: start,
		End:   graphql.Now(),
	}

	opCtx, err := c.ops.register(id, ctx)
	if err != nil {
		// The live operation keeps running; only the duplicate start is
		// rejected.
		c.logger.Debug("wsserver.connection.start(): duplicate operation id",
			abstractlogger.String("connection_id", c.id),
			abstractlogger.String("operation_id", id),
		)

		return c.writeMessage(&wsmessage.Message{
			Id:   id,
			Type: wsmessage.ErrorType,
		}, gqlerror.List{gqlerror.Errorf("subscriber for %s already exists", id)})
	}

	c.logger.Debug("wsserver.connection.start(): operation started",
		abstractlogger.String("connection_id", c.id),
		abstractlogger.String("operation_id", id),
	)

	rc, gqlErr := c.exec.CreateOperationContext(opCtx, params)
	if gqlErr != nil {
		resp := c.exec.DispatchError(graphql.WithOperationContext(opCtx, rc), gqlErr)
		c.operationError(id, resp.Errors)
		return nil
	}

	c.wg.Add(1)
	go c.executeOperation(opCtx, rc, id)

	return nil
}

// stop cancels the operation and removes it. Unknown ids are ignored so
// a repeated stop has no second effect. Removal happens under the write
// lock, so once stop returns no further frame carries the id.
func (c *connection) stop(id string) {
	c.writeMutex.Lock()
	cancel := c.ops.remove(id)
	c.writeMutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()

	c.logger.Debug("wsserver.connection.stop(): operation stopped",
		abstractlogger.String("connection_id", c.id),
		abstractlogger.String("operation_id", id),
	)
}

func (c *connection) executeOperation(ctx context.Context, rc *graphql.OperationContext, id string) {
	defer c.wg.Done()

	ctx = wserr.PrepareOperationContext(ctx)

	responses, ctx := c.exec.DispatchOperation(ctx, rc)

	err := wserr.GetOperationError(ctx)
	if err == nil {
		for {
			response := responses(ctx)
			if response == nil {
				break
			}

			c.operationResponse(id, response)
		}

		err = wserr.GetOperationError(ctx)
	}

	if err != nil {
		var ce wserr.CloseError
		if errors.As(err, &ce) {
			c.close(ce)
			return
		}

		resp := c.exec.DispatchError(graphql.WithOperationContext(ctx, rc), util.GetErrorList(err))
		c.operationError(id, resp.Errors)
		return
	}

	c.operationComplete(id)
}

// operationResponse sends a "data" frame. Registry membership is
// re-checked under the write lock so a value racing a stop is never
// delivered after the stop has been handled.
func (c *connection) operationResponse(id string, resp *graphql.Response) {
	data, err := encodeMessage(&wsmessage.Message{
		Id:   id,
		Type: wsmessage.DataType,
	}, resp)
	if err != nil {
		c.close(err)
		return
	}

	c.writeMutex.Lock()
	if !c.ops.lookup(id) {
		c.writeMutex.Unlock()
		return
	}
	err = c.conn.Send(c.req.Context(), data)
	c.writeMutex.Unlock()

	if err != nil {
		c.close(err)
	}
}

func (c *connection) operationComplete(id string) {
	data, err := encodeMessage(&wsmessage.Message{
		Id:   id,
		Type: wsmessage.CompleteType,
	}, nil)
	if err != nil {
		c.close(err)
		return
	}

	c.writeMutex.Lock()
	cancel := c.ops.remove(id)
	if cancel == nil {
		c.writeMutex.Unlock()
		return
	}
	cancel()
	err = c.conn.Send(c.req.Context(), data)
	c.writeMutex.Unlock()

	if err != nil {
		c.close(err)
	}
}

func (c *connection) operationError(id string, errs gqlerror.List) {
	if len(errs) == 0 {
		errs = gqlerror.List{gqlerror.Errorf("operation failed")}
	}

	data, err := encodeMessage(&wsmessage.Message{
		Id:   id,
		Type: wsmessage.ErrorType,
	}, errs)
	if err != nil {
		c.close(err)
		return
	}

	c.writeMutex.Lock()
	cancel := c.ops.remove(id)
	if cancel == nil {
		c.writeMutex.Unlock()
		return
	}
	cancel()
	err = c.conn.Send(c.req.Context(), data)
	c.writeMutex.Unlock()

	if err != nil {
		c.close(err)
	}
}

func (c *connection) watchInitTimeout(ctx context.Context) {
	defer c.wg.Done()

	<-ctx.Done()

	c.initReceivedMutex.Lock()
	defer c.initReceivedMutex.Unlock()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.initReceived {
		c.close(wserr.CloseError{
			Code:   int(websocket.StatusPolicyViolation),
			Reason: "connection initialisation timeout",
		})
	}
}

func (c *connection) watchAuthContext(ctx context.Context) {
	defer c.wg.Done()

	select {
	case <-ctx.Done():
		err := wserr.GetTimeoutError(ctx)

		var ce wserr.CloseError
		if !errors.As(err, &ce) {
			ce = wserr.CloseError{
				Code:   int(websocket.StatusPolicyViolation),
				Reason: "authorization timed out",
			}
		}

		c.close(ce)
	case <-c.done:
	}
}

func (c *connection) keepAlive(t *time.Ticker) {
	defer c.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			err := c.writeMessage(&wsmessage.Message{
				Type: wsmessage.KeepAliveType,
			}, nil)
			if err != nil {
				c.close(err)
				return
			}
		}
	}
}

func (c *connection) close(err error) {
	if err == nil {
		_ = c.conn.Close(int(websocket.StatusNormalClosure), "")
		return
	}

	var ce wserr.CloseError
	if !errors.As(err, &ce) {
		_ = c.conn.Close(int(websocket.StatusInternalError), "error")
		return
	}

	_ = c.conn.Close(ce.Code, ce.Reason)
}

func encodeMessage(msg *wsmessage.Message, payload interface{}) ([]byte, error) {
	var err error

	msg.Payload, err = wsmessage.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	return wsmessage.Encode(msg)
}

// writeMessage serializes and sends a single frame. Sends are
// serialized so concurrent operations never interleave partial writes.
func (c *connection) writeMessage(msg *wsmessage.Message, payload interface{}) error {
	data, err := encodeMessage(msg, payload)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	return c.conn.Send(c.req.Context(), data)
}
