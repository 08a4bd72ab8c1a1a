package vm

import "strings"

const (
	vmFilePrefix     = "file:///"
	clientFilePrefix = "file:/"
)

// Characters the client form carries literally and the VM form escapes.
// '%' is handled separately so that escapes are never applied twice.
var reservedURLChars = []struct {
	char    string
	escaped string
}{
	{"?", "%3F"},
	{";", "%3B"},
	{"#", "%23"},
	{"\"", "%22"},
	{"'", "%27"},
	{"<", "%3C"},
	{">", "%3E"},
	{" ", "%20"},
}

// VMURLToClient converts a VM url (file:///...) to the client form (file:/...).
func VMURLToClient(url string) string {
	if url == "" {
		return url
	}
	if strings.HasPrefix(url, vmFilePrefix) {
		url = clientFilePrefix + url[len(vmFilePrefix):]
	}
	if !strings.Contains(url, "%") {
		return url
	}
	for _, r := range reservedURLChars {
		url = strings.ReplaceAll(url, r.escaped, r.char)
		url = strings.ReplaceAll(url, strings.ToLower(r.escaped), r.char)
	}
	return strings.ReplaceAll(url, "%25", "%")
}

// ClientURLToVM converts a client url (file:/...) to the VM form (file:///...).
func ClientURLToVM(url string) string {
	if url == "" {
		return url
	}
	if strings.HasPrefix(url, clientFilePrefix) && !strings.HasPrefix(url, vmFilePrefix) {
		url = vmFilePrefix + strings.TrimLeft(url[len(clientFilePrefix):], "/")
	}
	url = strings.ReplaceAll(url, "%", "%25")
	for _, r := range reservedURLChars {
		url = strings.ReplaceAll(url, r.char, r.escaped)
	}
	return url
}
