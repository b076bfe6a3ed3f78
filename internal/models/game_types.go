package models

// Difficulty is the number of doors per level; exactly one door per level
// is the rug.
type Difficulty int

const (
	DifficultyHard   Difficulty = 3
	DifficultyMedium Difficulty = 4
	DifficultyEasy   Difficulty = 5
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyHard, DifficultyMedium, DifficultyEasy:
		return true
	}
	return false
}

type SaveSessionRequest struct {
	PlayerAddress  string  `json:"playerAddress" binding:"required"`
	ServerSeed     string  `json:"serverSeed" binding:"required"`
	ServerSeedHash string  `json:"serverSeedHash" binding:"required"`
	ClientSeed     string  `json:"clientSeed,omitempty"`
	BetAmount      float64 `json:"betAmount"`
	Difficulty     int     `json:"difficulty" binding:"required"`
}

// SessionSeeds is what GET /api/sessions hands back to a restoring client.
type SessionSeeds struct {
	ServerSeed     string  `json:"serverSeed"`
	ClientSeed     *string `json:"clientSeed"`
	ServerSeedHash string  `json:"serverSeedHash"`
}

type SettlementRequest struct {
	Player    string  `json:"player" binding:"required"`
	Won       bool    `json:"won"`
	BetAmount float64 `json:"betAmount"`
	Payout    float64 `json:"payout"`
	TxRef     string  `json:"txRef" binding:"required"`
}

type UsernameRequest struct {
	Address   string `json:"address" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
}

type TokenRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
}

type HistoryEntry struct {
	GameID    string `json:"gameId"`
	Status    string `json:"status"`
	Wagered   string `json:"wagered"`
	Winnings  string `json:"winnings"`
	Timestamp int64  `json:"timestamp"`
}

type PlayerStats struct {
	TotalGames    int64  `json:"totalGames"`
	Wins          int64  `json:"wins"`
	TotalWagered  string `json:"totalWagered"`
	NetProfitLoss string `json:"netProfitLoss"`
}

type LeaderboardEntry struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName"`
	Wins        int64  `json:"wins"`
	Games       int64  `json:"games"`
	Rank        int    `json:"rank"`
}
