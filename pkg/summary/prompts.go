package summary

const statusPrompt = `Information (Records):
%s

What would be the current emotional state of %s given the statements above?
Use a maximum of 10 words and MANDATORILY use the format below.

The result must be in third person, making clear who the person is.

Format:
Status: <FILL IN>`

const summarySystemRole = "You are a helpful assistant."

const characterPrompt = `You are a person named %s.
Your bio is the following:
%s`

const summaryPrompt = `Information (Records):
%s

Using only the information above.
Make an exact summary that is coherent, concise, and complete. Only put the summary, no titles or things like that.
MANDATORY, follow the following format:

Format:
Summary: <FILL IN>`

// bioTopic pairs the retrieval question of a bio section with its prompt.
// Both take the character name.
type bioTopic struct {
	question string
	prompt   string
}

var bioTopics = []bioTopic{
	{
		question: "Key features of %s, what makes it unique.",
		prompt: `How would one describe the key features of %s given the following statements?
Use a maximum of 120 words. Include only the summary, do not add a title or the like.

Only use the information provided below:
%s`,
	},
	{
		question: "Current daily occupation of %s.",
		prompt: `How would one describe the daily occupation of %s given the following statements?
Use a maximum of 120 words. Include only the summary, do not add a title or the like.

Only use the information provided below:
%s`,
	},
	{
		question: "How is %s feeling about their recent progress in life.",
		prompt: `How would one describe the recent progress in %s's life given the following statements?
Use a maximum of 120 words. Include only the summary, do not add a title or the like.

Only use the information provided below:
%s`,
	},
}
