package main

import (
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"

	"ezra-digest/internal/adapters/mtproto"
	"ezra-digest/internal/infra/config"
)

func main() {
	var (
		filePath string
		outPath  string
	)
	flag.StringVar(&filePath, "file", "", "Путь к сессии Telethon (строка, JSON) или gotd")
	flag.StringVar(&outPath, "out", "", "Куда записать сессию gotd (по умолчанию MTPROTO_SESSION_FILE)")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("mtproto-importer: не указан путь к файлу сессии (-file)")
	}
	if outPath == "" {
		outPath = config.Load().MTProto.SessionFile
	}
	if outPath == "" {
		log.Fatal().Msg("mtproto-importer: не указан файл назначения (-out или MTPROTO_SESSION_FILE)")
	}

	converted, err := mtproto.ImportSession(filePath, outPath)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось импортировать сессию")
	}
	if converted {
		fmt.Println("Сессия сконвертирована в формат gotd")
	}
	fmt.Printf("Сессия сохранена в %s\n", outPath)
}
