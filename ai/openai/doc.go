// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// The embedder and tagger talk to OpenAI or an OpenAI-compatible server
// (Ollama, LocalAI, vLLM) through langchaingo. The transcriber reads sidecar
// transcripts written next to audio and video files.
//
// # Usage
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434")) // /v1 added automatically
//
//	enricher, err := openai.NewEnricher(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer enricher.Close()
//
//	vector, err := enricher.Embedder().EmbedText(ctx, "mossy rock texture")
//	tags, err := enricher.Tagger().Tag(ctx, ai.AssetInfo{Path: "rock_01.png"})
package openai
