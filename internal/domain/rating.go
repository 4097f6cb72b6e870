package domain

// TopicStats is one topic's entry in a player's rating record. The record
// itself is owned by the rating store; the engine reads it at pairing time
// and writes it back at settlement.
type TopicStats struct {
	Rating     int `json:"rating"`
	Experience int `json:"experience"`
	Currency   int `json:"currency"`
	WinStreak  int `json:"win_streak"`
}

// RatingRecord maps topic -> stats for a single player.
type RatingRecord map[string]TopicStats

// PlayerRating is a flattened (username, topic, stats) row used by the
// durability sync between Redis and PostgreSQL.
type PlayerRating struct {
	Username string     `json:"username"`
	Topic    string     `json:"topic"`
	Stats    TopicStats `json:"stats"`
}
