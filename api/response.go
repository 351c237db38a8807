package api

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the envelope of every API response.
type Response struct {
	Status Status      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewDataResponse(data interface{}) Response {
	return Response{Status: StatusSuccess, Data: data}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

type RegisterReplicaRequest struct {
	ReplicaID string `json:"replica_id"`
}

type RegisterReplicaResponse struct {
	ReplicaID string `json:"replica_id"`
}

type CastVoteRequest struct {
	CandidateID string `json:"candidate_id"`
	VoterID     string `json:"voter_id"`
}

type ChainResponse struct {
	ElectionID  string      `json:"election_id"`
	Fingerprint string      `json:"fingerprint"`
	Length      int         `json:"length"`
	Members     int         `json:"members"`
	Replicas    int         `json:"replicas"`
	IsValid     bool        `json:"is_valid"`
	Blocks      interface{} `json:"blocks"`
}
