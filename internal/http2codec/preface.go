package http2codec

// ClientPreface is the fixed 24-byte connection preface every HTTP/2
// client sends before the first SETTINGS frame (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ClientPrefaceLen is len(ClientPreface), broken out since the codec
// reads it off the wire as a fixed-size byte count.
const ClientPrefaceLen = len(ClientPreface)
