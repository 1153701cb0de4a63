package jobs

import "fmt"

// Ancestry records where a job came from.
type Ancestry struct {
	Transfile string `json:"transfile"`
	Datafile  string `json:"datafile"`
	Details   string `json:"details"`
}

// Spec describes one downstream job.
type Spec struct {
	Packaging   string   `json:"packaging"`
	Format      string   `json:"format"`
	Charset     string   `json:"charset"`
	Destination string   `json:"destination"`
	Submitter   string   `json:"submitter,omitempty"`
	Mail        string   `json:"mail_for_notification,omitempty"`
	DataFile    string   `json:"data_file"`
	Ancestry    Ancestry `json:"ancestry"`
}

// BuildSpec fills a job specification from template with filename as the
// data file and contentID as the stored content.
func BuildSpec(template, filename, transfileName, contentID string) (Spec, error) {
	fields, err := ParseTemplate(template)
	if err != nil {
		return Spec{}, err
	}
	if _, ok := fields[FileKey]; ok {
		return Spec{}, fmt.Errorf("build spec for %s: %w", filename, ErrTemplateHasFile)
	}
	fields[FileKey] = filename

	return Spec{
		Packaging:   fields['t'],
		Format:      fields['o'],
		Charset:     fields['c'],
		Destination: fields['b'],
		Submitter:   fields['i'],
		Mail:        fields['m'],
		DataFile:    contentID,
		Ancestry: Ancestry{
			Transfile: transfileName,
			Datafile:  fields[FileKey],
			Details:   GenerateTransfile(template, []string{filename}),
		},
	}, nil
}
