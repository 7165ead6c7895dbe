package sniff

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake      = 0x16
	handshakeTypeClientHello = 0x01
	extensionServerName      = 0x0000
	maxRecordLen             = 16384
)

// TLSInfo holds what the proxy needs from a TLS ClientHello.
type TLSInfo struct {
	ServerName string
}

// SniffTLSClientHello peeks a TLS ClientHello and extracts its SNI without
// consuming any input. It returns (nil, nil) when the stream is not TLS.
func SniffTLSClientHello(reader *bufio.Reader) (*TLSInfo, error) {
	header, err := reader.Peek(5)
	if err != nil {
		return nil, err
	}
	if header[0] != recordTypeHandshake || header[1] != 0x03 || header[2] < 0x01 || header[2] > 0x04 {
		return nil, nil
	}

	recordLen := int(binary.BigEndian.Uint16(header[3:5]))
	if recordLen == 0 || recordLen > maxRecordLen {
		return nil, nil
	}

	data, err := reader.Peek(5 + recordLen)
	if err != nil {
		if err != io.EOF && err != bufio.ErrBufferFull {
			return nil, err
		}
		// Parse what arrived; a truncated hello usually still carries SNI.
		data, _ = reader.Peek(reader.Buffered())
	}

	return &TLSInfo{ServerName: extractSNI(data[5:])}, nil
}

// extractSNI walks a ClientHello handshake message and returns the first
// valid host_name entry of the server_name extension, or "".
func extractSNI(data []byte) string {
	s := cryptobyte.String(data)

	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || msgType != handshakeTypeClientHello {
		return ""
	}
	if !s.ReadUint24LengthPrefixed(&body) {
		// Truncated record: keep going with what is there.
		var length uint32
		s = cryptobyte.String(data[1:])
		if !s.ReadUint24(&length) {
			return ""
		}
		body = s
	}

	var sessionID, cipherSuites, compression, extensions cryptobyte.String
	if !body.Skip(2+32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&cipherSuites) ||
		!body.ReadUint8LengthPrefixed(&compression) ||
		!body.ReadUint16LengthPrefixed(&extensions) {
		return ""
	}

	for !extensions.Empty() {
		var extType uint16
		var ext cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&ext) {
			return ""
		}
		if extType == extensionServerName {
			return parseServerName(ext)
		}
	}
	return ""
}

func parseServerName(ext cryptobyte.String) string {
	var names cryptobyte.String
	if !ext.ReadUint16LengthPrefixed(&names) {
		return ""
	}
	for !names.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
			return ""
		}
		if nameType == 0 && isValidHostname(string(name)) {
			return string(name)
		}
	}
	return ""
}

func isValidHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	for _, c := range host {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func (info *TLSInfo) String() string {
	if info == nil {
		return "TLS(nil)"
	}
	return fmt.Sprintf("TLS(SNI=%s)", info.ServerName)
}
