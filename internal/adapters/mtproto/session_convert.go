package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat возвращается, если формат сессии не распознан.
var ErrUnsupportedSessionFormat = errors.New("неподдерживаемый формат MTProto-сессии")

// NormalizeSessionBytes приводит сессию к JSON-формату gotd.
// Понимает строковую сессию Telethon, выгрузку аккаунта с extra_params и
// выгрузку таблицы sessions. Второе значение сообщает, понадобилась ли конвертация.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("MTProto-сессия пуста")
	}

	if isGotdSession(trimmed) {
		return append([]byte(nil), trimmed...), false, nil
	}

	converters := []func([]byte) ([]byte, error){
		fromTelethonAccount,
		fromTelethonRows,
		fromTelethonString,
	}
	for _, convert := range converters {
		if out, err := convert(trimmed); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSessionFormat
}

func isGotdSession(raw []byte) bool {
	var probe struct {
		Version int `json:"Version"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.Version != 0
}

func fromTelethonAccount(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, fmt.Errorf("нет поля extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

// telethonRow — строка таблицы sessions из файла Telethon, выгруженная в JSON.
type telethonRow struct {
	DCID          int    `json:"dc_id"`
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	AuthKey       string `json:"auth_key"`
}

func fromTelethonRows(raw []byte) ([]byte, error) {
	var rows []telethonRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return sessionFromRow(row)
	}
	return nil, fmt.Errorf("в выгрузке нет пригодных строк")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if candidate == "" {
		return nil, fmt.Errorf("строка сессии пуста")
	}

	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, port, err := splitAddr(data.Addr); err == nil {
			data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
		}
	}
	return encodeSession(*data)
}

func sessionFromRow(row telethonRow) ([]byte, error) {
	keyHex := strings.Trim(strings.TrimSpace(row.AuthKey), "'\"")
	rawKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("декодирование auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("неожиданная длина auth_key: %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return encodeSession(session.Data{
		Config: session.Config{
			ThisDC:    row.DCID,
			DCOptions: []tg.DCOption{{ID: row.DCID, IPAddress: row.ServerAddress, Port: row.Port}},
		},
		DC:        row.DCID,
		Addr:      net.JoinHostPort(row.ServerAddress, strconv.Itoa(row.Port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
