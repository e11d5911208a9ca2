package media

import "errors"

var (
	// ErrUploadFailed indicates the image host rejected or dropped the upload.
	ErrUploadFailed = errors.New("image upload failed")
	// ErrUnreadableDocument indicates document text extraction failed or came back empty.
	ErrUnreadableDocument = errors.New("unreadable document")
	// ErrTranscriptionFailed indicates audio transcoding or transcription failed.
	ErrTranscriptionFailed = errors.New("transcription failed")
)
