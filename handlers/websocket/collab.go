package websocket

import (
	"context"
	"errors"
	"fmt"
	"onlinejson-server/core"
	"reflect"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type ackInvoker func(err error, payload map[string]any)

// socketConn adapts a socket.io socket to Conn.
type socketConn struct {
	socket *socketio.Socket
}

func (c *socketConn) ID() string {
	return string(c.socket.Id())
}

func (c *socketConn) Emit(event string, args ...any) error {
	return c.socket.Emit(event, args...)
}

func (c *socketConn) JoinGroup(group string) {
	c.socket.Join(socketio.Room(group))
}

func (c *socketConn) LeaveGroup(group string) {
	c.socket.Leave(socketio.Room(group))
}

// serverBroadcaster sends to socket.io rooms.
type serverBroadcaster struct {
	srv *socketio.Server
}

func (b *serverBroadcaster) BroadcastToGroup(group, event string, args ...any) error {
	return b.srv.To(socketio.Room(group)).Emit(event, args...)
}

// SetupSocketIO builds the socket.io server and a Hub that broadcasts through it.
func SetupSocketIO(newHub func(Broadcaster) *Hub) (*socketio.Server, *Hub) {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	hub := newHub(&serverBroadcaster{srv: srv})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		session := hub.Connect(&socketConn{socket: socket})
		utils.Log().Printf("socket %v connected\n", socket.Id())
		bindSession(socket, session)

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			session.Disconnect()
			socket.RemoveAllListeners("")
		})
	})

	return srv, hub
}

type operation func(ctx context.Context, args []any) (map[string]any, error)

// bindSession registers one socket.io handler per client operation.
func bindSession(socket *socketio.Socket, session *Session) {
	ops := map[string]operation{
		OpJoin: func(ctx context.Context, args []any) (map[string]any, error) {
			docID, err := stringArg(args, 0, "document id")
			if err != nil {
				return nil, err
			}
			displayName, err := stringArg(args, 1, "display name")
			if err != nil {
				return nil, err
			}
			roster, err := session.Join(ctx, docID, displayName)
			if err != nil {
				return nil, err
			}
			return map[string]any{"roster": roster}, nil
		},
		OpRequestInitialContent: docOperation(session.RequestInitialContent),
		OpResetDocument:         docOperation(session.ResetDocument),
		OpEdit: func(ctx context.Context, args []any) (map[string]any, error) {
			docID, err := stringArg(args, 0, "document id")
			if err != nil {
				return nil, err
			}
			content, err := stringArg(args, 1, "content")
			if err != nil {
				return nil, err
			}
			return nil, session.Edit(ctx, docID, content)
		},
		OpDownloadDocument:  docOperation(session.DownloadDocument),
		OpListCollaborators: docOperation(session.ListCollaborators),
		OpListDocuments: func(ctx context.Context, _ []any) (map[string]any, error) {
			ids, err := session.ListDocuments(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"documents": ids}, nil
		},
		OpLeaveRoom: docOperation(session.LeaveRoom),
	}

	for name, op := range ops {
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(name, func(datas ...any) {
			ack, args := extractAck(datas)
			payload, err := op(context.Background(), args)
			respond(socket, ack, name, payload, err)
		})
	}
}

func docOperation(call func(ctx context.Context, docID string) error) operation {
	return func(ctx context.Context, args []any) (map[string]any, error) {
		docID, err := stringArg(args, 0, "document id")
		if err != nil {
			return nil, err
		}
		return nil, call(ctx, docID)
	}
}

func stringArg(args []any, index int, name string) (string, error) {
	if index >= len(args) {
		return "", fmt.Errorf("%s is required: %w", name, core.ErrInvalidArgument)
	}
	value, ok := args[index].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string: %w", name, core.ErrInvalidArgument)
	}
	return value, nil
}

// responsePayload builds the ack body for an operation outcome. Internal
// failures carry a generic message; the detail stays in the server log.
func responsePayload(op string, payload map[string]any, err error) map[string]any {
	if err != nil {
		code := core.ErrorCode(err)
		message := err.Error()
		if code == core.CodeInternal {
			message = "internal error"
		}
		return map[string]any{
			"status": "error",
			"op":     op,
			"code":   code,
			"error":  message,
		}
	}
	response := map[string]any{"status": "ok"}
	for k, v := range payload {
		response[k] = v
	}
	return response
}

// respond acks the caller. Without an ack callback, failures are emitted
// as OperationFailed so they are never silently dropped.
func respond(socket *socketio.Socket, ack ackInvoker, op string, payload map[string]any, err error) {
	response := responsePayload(op, payload, err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"conn_id": string(socket.Id()),
			"op":      op,
			"code":    response["code"],
		}).WithError(err).Warn("operation failed")
	}
	if ack != nil {
		var ackErr error
		if err != nil {
			ackErr = errors.New(response["error"].(string))
		}
		ack(ackErr, response)
		return
	}
	if err != nil {
		_ = socket.Emit(EventOperationFailed, response)
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	switch fn := candidate.(type) {
	case nil:
		return nil
	case func([]any, error):
		// Native socket.io ack: the payload carries the outcome.
		return func(_ error, payload map[string]any) {
			fn([]any{payload}, nil)
		}
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			argValue = payload
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}
