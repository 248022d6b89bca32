package domain

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Object-store layout.
const (
	SessionFilesRoot = "chat-sessions"
	WorkspacesRoot   = "workspaces"
	DefinitionsRoot  = "definitions"
	LibrariesRoot    = "libraries"
	LogsRoot         = "logs"
)

func SessionPrefix(userID, sessionID string) string {
	return fmt.Sprintf("%s/%s/%s/", SessionFilesRoot, userID, sessionID)
}

func SessionFileKey(userID, sessionID, name string) string {
	return SessionPrefix(userID, sessionID) + name
}

// ParseSessionFileKey splits a session file key into its parts.
func ParseSessionFileKey(key string) (userID, sessionID, name string, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[0] != SessionFilesRoot || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func WorkspacePrefix(workspaceID string) string {
	return WorkspacesRoot + "/" + workspaceID + "/"
}

func DefinitionPrefix(actionGroupID string) string {
	return DefinitionsRoot + "/" + actionGroupID + "/"
}

func SchemaKey(actionGroupID string) string {
	return DefinitionPrefix(actionGroupID) + "api/api_definition.json"
}

func CodeKey(actionGroupID string) string {
	return DefinitionPrefix(actionGroupID) + "lambda/lambda_definition.zip"
}

func LayerKey(actionGroupID string) string {
	return DefinitionPrefix(actionGroupID) + "lambda/layer.zip"
}

func LibraryPrefix(libraryID string) string {
	return LibrariesRoot + "/" + libraryID + "/"
}

func LogPrefix(actionGroupID string) string {
	return LogsRoot + "/" + actionGroupID + "/lambda/"
}

var websiteFile = regexp.MustCompile(`_([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\.txt$`)

// WebsiteFileName is the materialized text file name for a website document.
func WebsiteFileName(documentID string) string {
	return "website_" + documentID + ".txt"
}

// WebsiteDocumentID extracts the document id from a file named *_<uuid>.txt.
func WebsiteDocumentID(key string) (string, bool) {
	m := websiteFile.FindStringSubmatch(path.Base(key))
	if m == nil {
		return "", false
	}
	return m[1], true
}
