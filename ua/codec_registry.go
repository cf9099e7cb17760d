package ua

// CodecRegistry maps encoding ids to message constructors. It is built by
// the composing program and passed to the components that decode message
// bodies, so there is no process-wide registration table.
type CodecRegistry struct {
	ctors map[NodeID]func() BinaryDecodable
}

// NewCodecRegistry returns an empty registry.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{ctors: make(map[NodeID]func() BinaryDecodable)}
}

// NewSecureChannelCodecRegistry returns a registry holding the messages of
// the secure-channel services.
func NewSecureChannelCodecRegistry() *CodecRegistry {
	r := NewCodecRegistry()
	r.Register(ObjectIDOpenSecureChannelRequestEncodingDefaultBinary, func() BinaryDecodable { return new(OpenSecureChannelRequest) })
	r.Register(ObjectIDOpenSecureChannelResponseEncodingDefaultBinary, func() BinaryDecodable { return new(OpenSecureChannelResponse) })
	r.Register(ObjectIDCloseSecureChannelRequestEncodingDefaultBinary, func() BinaryDecodable { return new(CloseSecureChannelRequest) })
	r.Register(ObjectIDCloseSecureChannelResponseEncodingDefaultBinary, func() BinaryDecodable { return new(CloseSecureChannelResponse) })
	r.Register(ObjectIDServiceFaultEncodingDefaultBinary, func() BinaryDecodable { return new(ServiceFault) })
	return r
}

// Register adds a constructor for the given encoding id.
func (r *CodecRegistry) Register(id NodeID, ctor func() BinaryDecodable) {
	r.ctors[id] = ctor
}

// New returns a fresh message for the given encoding id.
func (r *CodecRegistry) New(id NodeID) (BinaryDecodable, bool) {
	ctor, ok := r.ctors[id]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// DecodeMessage reads an encoding id from the decoder and decodes the
// identified message.
func (r *CodecRegistry) DecodeMessage(dec *BinaryDecoder) (BinaryDecodable, error) {
	var id NodeID
	if err := dec.ReadNodeID(&id); err != nil {
		return nil, BadDecodingError
	}
	msg, ok := r.New(id)
	if !ok {
		return nil, BadDecodingError
	}
	if err := dec.Decode(msg); err != nil {
		return nil, BadDecodingError
	}
	return msg, nil
}

// EncodeMessage writes the message's encoding id followed by its body.
func (r *CodecRegistry) EncodeMessage(enc *BinaryEncoder, msg interface {
	BinaryEncodable
	EncodingID() NodeID
}) error {
	if err := enc.WriteNodeID(msg.EncodingID()); err != nil {
		return BadEncodingError
	}
	return enc.Encode(msg)
}
