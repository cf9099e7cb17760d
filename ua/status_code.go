package ua

import "fmt"

// StatusCode is the result of a service call or a transport-level operation.
type StatusCode uint32

// IsGood returns true if the StatusCode is good.
func (c StatusCode) IsGood() bool {
	return (uint32(c) & SeverityMask) == SeverityGood
}

// IsBad returns true if the StatusCode is bad.
func (c StatusCode) IsBad() bool {
	return (uint32(c) & SeverityMask) == SeverityBad
}

// IsUncertain returns true if the StatusCode is uncertain.
func (c StatusCode) IsUncertain() bool {
	return (uint32(c) & SeverityMask) == SeverityUncertain
}

// Error implements the error interface.
func (c StatusCode) Error() string {
	if name, ok := statusCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(c))
}

const (
	// Good - The operation completed successfully.
	Good StatusCode = 0x00000000
	// SeverityMask - .
	SeverityMask uint32 = 0xC0000000
	// SeverityGood - .
	SeverityGood uint32 = 0x00000000
	// SeverityUncertain - .
	SeverityUncertain uint32 = 0x40000000
	// SeverityBad - .
	SeverityBad uint32 = 0x80000000
)

const (
	// BadUnexpectedError - An unexpected error occurred.
	BadUnexpectedError StatusCode = 0x80010000
	// BadTimeout - The operation timed out.
	BadTimeout StatusCode = 0x800A0000
	// BadServiceUnsupported - The server does not support the requested service.
	BadServiceUnsupported StatusCode = 0x800B0000
	// BadNonceInvalid - The nonce does not appear to be a valid random value or the length is not correct for the security policy.
	BadNonceInvalid StatusCode = 0x80240000
	// BadCertificateInvalid - The certificate provided as a parameter is not valid.
	BadCertificateInvalid StatusCode = 0x80120000
	// BadSecurityChecksFailed - An error occurred verifying security.
	BadSecurityChecksFailed StatusCode = 0x80130000
	// BadRequestTypeInvalid - The security token request type is not valid.
	BadRequestTypeInvalid StatusCode = 0x80530000
	// BadSecurityModeRejected - The security mode does not meet the requirements set by the server.
	BadSecurityModeRejected StatusCode = 0x80540000
	// BadSecurityPolicyRejected - The security policy does not meet the requirements set by the server.
	BadSecurityPolicyRejected StatusCode = 0x80550000
	// BadDecodingError - Decoding halted because of invalid data in the stream.
	BadDecodingError StatusCode = 0x80070000
	// BadEncodingError - Encoding halted because of invalid data in the objects being serialized.
	BadEncodingError StatusCode = 0x80060000
	// BadEncodingLimitsExceeded - The message encoding/decoding limits imposed by the stack have been exceeded.
	BadEncodingLimitsExceeded StatusCode = 0x80080000
	// BadSecureChannelTokenUnknown - The token id specified is not known to the server.
	BadSecureChannelTokenUnknown StatusCode = 0x80870000
	// BadSecureChannelIDInvalid - The specified secure channel is no longer valid.
	BadSecureChannelIDInvalid StatusCode = 0x80220000
	// BadSecureChannelClosed - The secure channel has been closed.
	BadSecureChannelClosed StatusCode = 0x80860000
	// BadServerHalted - The server has stopped and cannot process any requests.
	BadServerHalted StatusCode = 0x800E0000
	// BadTCPMessageTypeInvalid - The type of the message specified in the header is invalid.
	BadTCPMessageTypeInvalid StatusCode = 0x807E0000
	// BadTCPSecureChannelUnknown - The secure channel id and/or token id are not currently in use.
	BadTCPSecureChannelUnknown StatusCode = 0x807F0000
	// BadTCPMessageTooLarge - The size of the message chunk specified in the header is too large.
	BadTCPMessageTooLarge StatusCode = 0x80800000
	// BadTCPInternalError - An internal error occurred.
	BadTCPInternalError StatusCode = 0x80820000
	// BadTCPEndpointURLInvalid - The server does not recognize the endpoint url.
	BadTCPEndpointURLInvalid StatusCode = 0x80830000
	// BadProtocolVersionUnsupported - The applications do not have compatible protocol versions.
	BadProtocolVersionUnsupported StatusCode = 0x80BE0000
)

var statusCodeNames = map[StatusCode]string{
	Good:                          "Good",
	BadUnexpectedError:            "BadUnexpectedError",
	BadTimeout:                    "BadTimeout",
	BadServiceUnsupported:         "BadServiceUnsupported",
	BadNonceInvalid:               "BadNonceInvalid",
	BadCertificateInvalid:         "BadCertificateInvalid",
	BadSecurityChecksFailed:       "BadSecurityChecksFailed",
	BadRequestTypeInvalid:         "BadRequestTypeInvalid",
	BadSecurityModeRejected:       "BadSecurityModeRejected",
	BadSecurityPolicyRejected:     "BadSecurityPolicyRejected",
	BadDecodingError:              "BadDecodingError",
	BadEncodingError:              "BadEncodingError",
	BadEncodingLimitsExceeded:     "BadEncodingLimitsExceeded",
	BadSecureChannelTokenUnknown:  "BadSecureChannelTokenUnknown",
	BadSecureChannelIDInvalid:     "BadSecureChannelIDInvalid",
	BadSecureChannelClosed:        "BadSecureChannelClosed",
	BadServerHalted:               "BadServerHalted",
	BadTCPMessageTypeInvalid:      "BadTCPMessageTypeInvalid",
	BadTCPSecureChannelUnknown:    "BadTCPSecureChannelUnknown",
	BadTCPMessageTooLarge:         "BadTCPMessageTooLarge",
	BadTCPInternalError:           "BadTCPInternalError",
	BadTCPEndpointURLInvalid:      "BadTCPEndpointURLInvalid",
	BadProtocolVersionUnsupported: "BadProtocolVersionUnsupported",
}
