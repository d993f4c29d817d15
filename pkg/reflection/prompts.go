package reflection

const questionSystemRole = "You are good at deducing things from statements, you always answer in a concrete, brief and easy to understand way."

const questionPrompt = `Information (Records):
%s

Taking into account only the information above,
What are the top 3 high-level questions we can answer about the topics mentioned? (ONLY WRITE THE QUESTIONS, NOT THE ANSWERS)

Format:
Question 1: <FILL IN>
Question 2: <FILL IN>
Question 3: <FILL IN>`

const insightSystemRole = "You are a helpful assistant and you follow instructions to the letter."

const insightPrompt = `Statements about %s
%s

Using only the information provided above,
What 5 high-level ideas can you deduce from the statements above?
Use a maximum of 20 words per idea (references do not count toward the maximum word count).

It is MANDATORY to follow the following format, there must always be references to the memories that generated the reflection, and these must always be enclosed in brackets, even if it's just a single reference:

Format:
1. <Insight>. /*/ References: [<FILL IN>]
2. <Insight>. /*/ References: [<FILL IN>]
3. <Insight>. /*/ References: [<FILL IN>]
4. <Insight>. /*/ References: [<FILL IN>]
5. <Insight>. /*/ References: [<FILL IN>]`
