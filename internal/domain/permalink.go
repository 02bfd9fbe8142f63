package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const permalinkBase = "https://t.me"

// privateChannelPrefix — служебный префикс супергрупп и каналов в идентификаторах Bot API.
const privateChannelPrefix = "100"

// BuildPermalink строит ссылку на сообщение канала. Пустая строка означает, что ссылку построить нельзя.
func BuildPermalink(channelID int64, handle string, messageID int) string {
	if messageID == 0 {
		return ""
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle != "" {
		return fmt.Sprintf("%s/%s/%d", permalinkBase, handle, messageID)
	}
	if channelID >= 0 {
		return ""
	}
	id := strconv.FormatInt(channelID, 10)[1:]
	id = strings.TrimPrefix(id, privateChannelPrefix)
	return fmt.Sprintf("%s/c/%s/%d", permalinkBase, id, messageID)
}
