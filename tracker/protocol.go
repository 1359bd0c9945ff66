package main

import (
	"strconv"
	"strings"

	"peershare/common"
)

// The wire format is stringly-typed; internal dispatch is not. Each
// command line is parsed once into a tagged request and handlers
// switch on the verb.

type verb int

const (
	verbUnknown verb = iota
	verbCreateUser
	verbLogin
	verbLogout
	verbCreateGroup
	verbJoinGroup
	verbLeaveGroup
	verbListGroups
	verbListRequests
	verbAcceptRequest
	verbListFiles
	verbUploadFile
	verbDownloadFile
)

var verbsByName = map[string]verb{
	"CREATE_USER":    verbCreateUser,
	"LOGIN":          verbLogin,
	"LOGOUT":         verbLogout,
	"CREATE_GROUP":   verbCreateGroup,
	"JOIN_GROUP":     verbJoinGroup,
	"LEAVE_GROUP":    verbLeaveGroup,
	"LIST_GROUPS":    verbListGroups,
	"LIST_REQUESTS":  verbListRequests,
	"ACCEPT_REQUEST": verbAcceptRequest,
	"LIST_FILES":     verbListFiles,
	"UPLOAD_FILE":    verbUploadFile,
	"DOWNLOAD_FILE":  verbDownloadFile,
}

// request is the decoded form of one command line. Only the fields the
// verb's grammar names are populated.
type request struct {
	verb      verb
	user      string
	password  string
	group     string
	target    string // ACCEPT_REQUEST subject
	filename  string
	fileHash  string
	pieceBlob string
	size      int64
	ip        string
	port      int
}

// parseRequest validates arity and numeric tokens. A non-empty reply
// means the line was rejected before touching any state.
func parseRequest(tokens []string) (*request, string) {
	name := tokens[0]
	v, ok := verbsByName[name]
	if !ok {
		return nil, "ERROR: Unknown command"
	}

	invalid := "ERROR: Invalid " + name + " command"
	req := &request{verb: v}

	switch v {
	case verbCreateUser:
		if len(tokens) < 3 {
			return nil, invalid
		}
		req.user, req.password = tokens[1], tokens[2]

	case verbLogin:
		if len(tokens) < 5 {
			return nil, invalid
		}
		port, err := strconv.Atoi(tokens[4])
		if err != nil {
			return nil, invalid
		}
		req.user, req.password, req.ip, req.port = tokens[1], tokens[2], tokens[3], port

	case verbLogout:
		if len(tokens) < 2 {
			return nil, invalid
		}
		req.user = tokens[1]

	case verbCreateGroup, verbJoinGroup, verbLeaveGroup, verbListRequests, verbListFiles:
		if len(tokens) < 3 {
			return nil, invalid
		}
		req.user, req.group = tokens[1], tokens[2]

	case verbListGroups:
		// No operands.

	case verbAcceptRequest:
		if len(tokens) < 4 {
			return nil, invalid
		}
		req.user, req.group, req.target = tokens[1], tokens[2], tokens[3]

	case verbUploadFile:
		if len(tokens) < 7 {
			return nil, "ERROR: Invalid UPLOAD_FILE command - insufficient parameters"
		}
		size, err := strconv.ParseInt(tokens[6], 10, 64)
		if err != nil {
			return nil, "ERROR: Invalid file size"
		}
		req.user, req.group, req.filename = tokens[1], tokens[2], tokens[3]
		req.fileHash, req.pieceBlob, req.size = tokens[4], tokens[5], size

	case verbDownloadFile:
		if len(tokens) < 4 {
			return nil, invalid
		}
		req.user, req.group, req.filename = tokens[1], tokens[2], tokens[3]
	}

	return req, ""
}

// splitPieceBlob breaks an upload's piece-hash blob into fragments.
// Three formats arrive on the wire: 20-hex-char fragments, 8-char
// fragments, and either with a trailing TRUNCATED sentinel when the
// uploader capped the blob. A truncated blob is read as 8-char
// fragments; when a length divides both ways the 8-char reading wins.
func splitPieceBlob(blob string) []string {
	var hashes []string

	if i := strings.Index(blob, "TRUNCATED"); i >= 0 {
		blob = blob[:i]
		for j := 0; j+8 <= len(blob); j += 8 {
			hashes = append(hashes, blob[j:j+8])
		}
		return hashes
	}

	switch {
	case len(blob)%8 == 0:
		for j := 0; j+8 <= len(blob); j += 8 {
			hashes = append(hashes, blob[j:j+8])
		}
	case len(blob)%20 == 0:
		for j := 0; j+20 <= len(blob); j += 20 {
			hashes = append(hashes, blob[j:j+20])
		}
	default:
		for j := 0; j+8 <= len(blob); j += 8 {
			hashes = append(hashes, blob[j:j+8])
		}
	}
	return hashes
}

// estimatePieces is the piece count implied by a file size.
func estimatePieces(size int64) int64 {
	return (size + common.PieceSize - 1) / common.PieceSize
}
