package emulator

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/example/chat-sync-client/domain/chat"
)

// Seed registers n demo users with ids user-1..user-n and, when there are at
// least two, opens a conversation between the first two.
func Seed(store *Store, n int, seed int64) []User {
	faker := gofakeit.New(seed)

	users := make([]User, 0, n)
	for i := 1; i <= n; i++ {
		u := User{
			ID:     fmt.Sprintf("user-%d", i),
			Name:   faker.Name(),
			Avatar: faker.ImageURL(64, 64),
		}
		store.PutUser(u)
		users = append(users, u)
	}

	if len(users) < 2 {
		return users
	}
	room, _, err := store.CreateOrGetRoom(users[0].ID, users[1].ID)
	if err != nil {
		return users
	}
	for i := 0; i < 3; i++ {
		sender := users[i%2].ID
		_, _, _ = store.AddMessage(room.ID, sender, chat.TextDraft(faker.Sentence(6)))
	}
	return users
}
