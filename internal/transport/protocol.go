package transport

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Strata/internal/object"
	"Strata/internal/types"
)

// Message types. A request is one type byte followed by a FlatBuffers table;
// a response is the bare response table.
const (
	msgHead = 0x01 // msgHead asks for an object header
	msgPut  = 0x02 // msgPut stores an object on the remote node
	msgGet  = 0x03 // msgGet fetches a full object
)

// msgName returns a label for logs and metrics.
func msgName(t byte) string {
	switch t {
	case msgHead:
		return "head"
	case msgPut:
		return "put"
	case msgGet:
		return "get"
	default:
		return "unknown"
	}
}

// encodeAddressRequest builds a Head or Get request.
func encodeAddressRequest(msgType byte, addr object.Address) []byte {
	builder := flatbuffers.NewBuilder(128)
	ref := object.BuildAddress(builder, addr)

	var root flatbuffers.UOffsetT
	if msgType == msgHead {
		types.HeadRequestStart(builder)
		types.HeadRequestAddAddress(builder, ref)
		root = types.HeadRequestEnd(builder)
	} else {
		types.GetRequestStart(builder)
		types.GetRequestAddAddress(builder, ref)
		root = types.GetRequestEnd(builder)
	}
	builder.Finish(root)

	return frame(msgType, builder.FinishedBytes())
}

// encodePutRequest builds a Put request. Large payloads travel compressed.
func encodePutRequest(obj *object.Object) []byte {
	builder := flatbuffers.NewBuilder(256 + len(obj.Payload))
	objOff := object.BuildObject(builder, obj, true)

	types.PutRequestStart(builder)
	types.PutRequestAddObject(builder, objOff)
	builder.Finish(types.PutRequestEnd(builder))

	return frame(msgPut, builder.FinishedBytes())
}

func frame(msgType byte, body []byte) []byte {
	buf := make([]byte, 1+len(body))
	buf[0] = msgType
	copy(buf[1:], body)

	return buf
}

// decodeAddress extracts the address of a Head or Get request body.
func decodeAddress(msgType byte, body []byte) (addr object.Address, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed %s request: %v", msgName(msgType), r)
		}
	}()

	var ref *types.Address
	if msgType == msgHead {
		ref = types.GetRootAsHeadRequest(body, 0).Address(nil)
	} else {
		ref = types.GetRootAsGetRequest(body, 0).Address(nil)
	}
	if ref == nil {
		return addr, fmt.Errorf("%s request without address", msgName(msgType))
	}

	return object.AddressFromTable(ref)
}

// decodePut extracts the object of a Put request body.
func decodePut(body []byte) (obj *object.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("malformed put request: %v", r)
		}
	}()

	t := types.GetRootAsPutRequest(body, 0).Object(nil)
	if t == nil {
		return nil, fmt.Errorf("put request without object")
	}

	return object.FromTable(t)
}

// headResponse is a decoded HeadResponse.
type headResponse struct {
	status    types.Status
	header    *object.Header
	signature []byte
	message   string
}

func encodeHeadResponse(status types.Status, h *object.Header, sig []byte, msg string) []byte {
	builder := flatbuffers.NewBuilder(256)

	var hdrOff, sigOff flatbuffers.UOffsetT
	if h != nil {
		hdrOff = object.BuildHeader(builder, h)
	}
	if len(sig) > 0 {
		sigOff = builder.CreateByteVector(sig)
	}
	msgOff := builder.CreateString(msg)

	types.HeadResponseStart(builder)
	types.HeadResponseAddStatus(builder, status)
	if h != nil {
		types.HeadResponseAddHeader(builder, hdrOff)
	}
	if len(sig) > 0 {
		types.HeadResponseAddSignature(builder, sigOff)
	}
	types.HeadResponseAddMessage(builder, msgOff)
	builder.Finish(types.HeadResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodeHeadResponse(data []byte) (resp *headResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("malformed head response: %v", r)
		}
	}()

	t := types.GetRootAsHeadResponse(data, 0)
	resp = &headResponse{
		status:    t.Status(),
		signature: append([]byte(nil), t.SignatureBytes()...),
		message:   string(t.Message()),
	}

	if ht := t.Header(nil); ht != nil {
		if resp.header, err = object.HeaderFromTable(ht); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// putResponse is a decoded PutResponse.
type putResponse struct {
	status    types.Status
	signature []byte
	message   string
}

func encodePutResponse(status types.Status, sig []byte, msg string) []byte {
	builder := flatbuffers.NewBuilder(192)

	var sigOff flatbuffers.UOffsetT
	if len(sig) > 0 {
		sigOff = builder.CreateByteVector(sig)
	}
	msgOff := builder.CreateString(msg)

	types.PutResponseStart(builder)
	types.PutResponseAddStatus(builder, status)
	if len(sig) > 0 {
		types.PutResponseAddSignature(builder, sigOff)
	}
	types.PutResponseAddMessage(builder, msgOff)
	builder.Finish(types.PutResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodePutResponse(data []byte) (resp *putResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("malformed put response: %v", r)
		}
	}()

	t := types.GetRootAsPutResponse(data, 0)

	return &putResponse{
		status:    t.Status(),
		signature: append([]byte(nil), t.SignatureBytes()...),
		message:   string(t.Message()),
	}, nil
}

// getResponse is a decoded GetResponse.
type getResponse struct {
	status  types.Status
	object  *object.Object
	message string
}

func encodeGetResponse(status types.Status, obj *object.Object, msg string) []byte {
	size := 128
	if obj != nil {
		size += len(obj.Payload)
	}
	builder := flatbuffers.NewBuilder(size)

	var objOff flatbuffers.UOffsetT
	if obj != nil {
		objOff = object.BuildObject(builder, obj, true)
	}
	msgOff := builder.CreateString(msg)

	types.GetResponseStart(builder)
	types.GetResponseAddStatus(builder, status)
	if obj != nil {
		types.GetResponseAddObject(builder, objOff)
	}
	types.GetResponseAddMessage(builder, msgOff)
	builder.Finish(types.GetResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodeGetResponse(data []byte) (resp *getResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("malformed get response: %v", r)
		}
	}()

	t := types.GetRootAsGetResponse(data, 0)
	resp = &getResponse{
		status:  t.Status(),
		message: string(t.Message()),
	}

	if ot := t.Object(nil); ot != nil {
		if resp.object, err = object.FromTable(ot); err != nil {
			return nil, err
		}
	}

	return resp, nil
}
