package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// TranslateClient wraps the translation service.
type TranslateClient struct {
	conn *grpc.ClientConn
}

// NewTranslateClient constructs the wrapper.
func NewTranslateClient(conn *grpc.ClientConn) *TranslateClient {
	return &TranslateClient{conn: conn}
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Translate returns the text translated into targetLang.
func (t *TranslateClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	in := translateRequest{Text: text, SourceLang: sourceLang, TargetLang: targetLang}
	var out translateResponse
	if err := t.conn.Invoke(ctx, "/translate.Translator/Translate", &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return "", err
	}
	return out.Text, nil
}
