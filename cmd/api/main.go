package main

import (
	"log"
	"net/http"

	"documind/internal/api"
	"documind/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	s, err := api.NewServer(cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("documind api listening on %s embed_providers=%q llm_providers=%q", cfg.APIAddr, cfg.EmbedProviders, cfg.LLMProviders)
	if err := http.ListenAndServe(cfg.APIAddr, s.Routes()); err != nil {
		log.Fatal(err)
	}
}
