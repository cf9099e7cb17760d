package ua

import (
	"time"
)

// SecurityTokenRequestType indicates whether a token is requested for a new
// channel or to renew an existing one.
type SecurityTokenRequestType uint32

const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

// MessageSecurityMode indicates the level of protection applied to symmetric
// traffic.
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// ServiceRequest is implemented by all service request messages.
type ServiceRequest interface {
	BinaryEncodable
	BinaryDecodable
	Header() *RequestHeader
	EncodingID() NodeID
}

// ServiceResponse is implemented by all service response messages.
type ServiceResponse interface {
	BinaryEncodable
	BinaryDecodable
	Header() *ResponseHeader
	EncodingID() NodeID
}

// RequestHeader is the common header of every service request.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
}

func (h *RequestHeader) EncodeBinary(enc *BinaryEncoder) error {
	if err := enc.WriteNodeID(h.AuthenticationToken); err != nil {
		return err
	}
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := enc.WriteString(h.AuditEntryID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.TimeoutHint); err != nil {
		return err
	}
	return enc.WriteNullExtensionObject()
}

func (h *RequestHeader) DecodeBinary(dec *BinaryDecoder) error {
	if err := dec.ReadNodeID(&h.AuthenticationToken); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := dec.ReadString(&h.AuditEntryID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.TimeoutHint); err != nil {
		return err
	}
	return dec.ReadNullExtensionObject()
}

// ResponseHeader is the common header of every service response.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
	StringTable   []string
}

func (h *ResponseHeader) EncodeBinary(enc *BinaryEncoder) error {
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteStatusCode(h.ServiceResult); err != nil {
		return err
	}
	if err := enc.WriteNullDiagnosticInfo(); err != nil {
		return err
	}
	if err := enc.WriteStringArray(h.StringTable); err != nil {
		return err
	}
	return enc.WriteNullExtensionObject()
}

func (h *ResponseHeader) DecodeBinary(dec *BinaryDecoder) error {
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadStatusCode(&h.ServiceResult); err != nil {
		return err
	}
	if err := dec.ReadNullDiagnosticInfo(); err != nil {
		return err
	}
	if err := dec.ReadStringArray(&h.StringTable); err != nil {
		return err
	}
	return dec.ReadNullExtensionObject()
}

// ChannelSecurityToken identifies a key epoch of a secure channel.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

func (t *ChannelSecurityToken) EncodeBinary(enc *BinaryEncoder) error {
	if err := enc.WriteUInt32(t.ChannelID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(t.TokenID); err != nil {
		return err
	}
	if err := enc.WriteDateTime(t.CreatedAt); err != nil {
		return err
	}
	return enc.WriteUInt32(t.RevisedLifetime)
}

func (t *ChannelSecurityToken) DecodeBinary(dec *BinaryDecoder) error {
	if err := dec.ReadUInt32(&t.ChannelID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&t.TokenID); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&t.CreatedAt); err != nil {
		return err
	}
	return dec.ReadUInt32(&t.RevisedLifetime)
}

// OpenSecureChannelRequest asks the server to issue or renew a security
// token.
type OpenSecureChannelRequest struct {
	RequestHeader         RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           ByteString
	RequestedLifetime     uint32
}

func (r *OpenSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

func (r *OpenSecureChannelRequest) EncodingID() NodeID {
	return ObjectIDOpenSecureChannelRequestEncodingDefaultBinary
}

func (r *OpenSecureChannelRequest) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.RequestHeader.EncodeBinary(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ClientProtocolVersion); err != nil {
		return err
	}
	if err := enc.WriteUInt32(uint32(r.RequestType)); err != nil {
		return err
	}
	if err := enc.WriteUInt32(uint32(r.SecurityMode)); err != nil {
		return err
	}
	if err := enc.WriteByteString(r.ClientNonce); err != nil {
		return err
	}
	return enc.WriteUInt32(r.RequestedLifetime)
}

func (r *OpenSecureChannelRequest) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.RequestHeader.DecodeBinary(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ClientProtocolVersion); err != nil {
		return err
	}
	var requestType uint32
	if err := dec.ReadUInt32(&requestType); err != nil {
		return err
	}
	r.RequestType = SecurityTokenRequestType(requestType)
	var mode uint32
	if err := dec.ReadUInt32(&mode); err != nil {
		return err
	}
	r.SecurityMode = MessageSecurityMode(mode)
	if err := dec.ReadByteString(&r.ClientNonce); err != nil {
		return err
	}
	return dec.ReadUInt32(&r.RequestedLifetime)
}

// OpenSecureChannelResponse carries the issued or renewed security token.
type OpenSecureChannelResponse struct {
	ResponseHeader        ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           ByteString
}

func (r *OpenSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

func (r *OpenSecureChannelResponse) EncodingID() NodeID {
	return ObjectIDOpenSecureChannelResponseEncodingDefaultBinary
}

func (r *OpenSecureChannelResponse) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.ResponseHeader.EncodeBinary(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := r.SecurityToken.EncodeBinary(enc); err != nil {
		return err
	}
	return enc.WriteByteString(r.ServerNonce)
}

func (r *OpenSecureChannelResponse) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.ResponseHeader.DecodeBinary(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := r.SecurityToken.DecodeBinary(dec); err != nil {
		return err
	}
	return dec.ReadByteString(&r.ServerNonce)
}

// CloseSecureChannelRequest asks the server to close the secure channel.
type CloseSecureChannelRequest struct {
	RequestHeader RequestHeader
}

func (r *CloseSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

func (r *CloseSecureChannelRequest) EncodingID() NodeID {
	return ObjectIDCloseSecureChannelRequestEncodingDefaultBinary
}

func (r *CloseSecureChannelRequest) EncodeBinary(enc *BinaryEncoder) error {
	return r.RequestHeader.EncodeBinary(enc)
}

func (r *CloseSecureChannelRequest) DecodeBinary(dec *BinaryDecoder) error {
	return r.RequestHeader.DecodeBinary(dec)
}

// CloseSecureChannelResponse acknowledges a CloseSecureChannelRequest.
type CloseSecureChannelResponse struct {
	ResponseHeader ResponseHeader
}

func (r *CloseSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

func (r *CloseSecureChannelResponse) EncodingID() NodeID {
	return ObjectIDCloseSecureChannelResponseEncodingDefaultBinary
}

func (r *CloseSecureChannelResponse) EncodeBinary(enc *BinaryEncoder) error {
	return r.ResponseHeader.EncodeBinary(enc)
}

func (r *CloseSecureChannelResponse) DecodeBinary(dec *BinaryDecoder) error {
	return r.ResponseHeader.DecodeBinary(dec)
}

// ServiceFault is returned when a service request fails.
type ServiceFault struct {
	ResponseHeader ResponseHeader
}

func (r *ServiceFault) Header() *ResponseHeader { return &r.ResponseHeader }

func (r *ServiceFault) EncodingID() NodeID {
	return ObjectIDServiceFaultEncodingDefaultBinary
}

func (r *ServiceFault) EncodeBinary(enc *BinaryEncoder) error {
	return r.ResponseHeader.EncodeBinary(enc)
}

func (r *ServiceFault) DecodeBinary(dec *BinaryDecoder) error {
	return r.ResponseHeader.DecodeBinary(dec)
}
