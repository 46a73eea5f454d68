package plm

import (
	"context"
	"encoding/json"
	"io"

	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
)

// newSeededSecrets builds a secretstore.Memory pre-populated with the
// four credential keys a Session needs, pointed at a local test server.
func newSeededSecrets(apiBase string) *secretstore.Memory {
	s := secretstore.NewMemory()
	ctx := context.Background()
	_ = s.Set(ctx, secretstore.KeyEmail, "user@example.com")
	_ = s.Set(ctx, secretstore.KeyPassword, "hunter2")
	_ = s.Set(ctx, secretstore.KeyWorkspaceID, "ws-1")
	_ = s.Set(ctx, secretstore.KeyAPIBase, apiBase)
	return s
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
